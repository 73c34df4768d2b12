package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/pkg/api/handlers"
	"github.com/marmos91/dittobundle/pkg/apiclient"
)

var (
	assetOutput  string
	assetAll     bool
	assetHandle  uint64
	assetInherit bool
	assetTimeout time.Duration
)

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Load, unload and list assets on a running manager",
}

var assetLoadCmd = &cobra.Command{
	Use:   "load <path[@type]>",
	Short: "Load an asset and print its handle",
	Long: `Ask a running manager to load an asset. The asset stays referenced
until it is unloaded with "dbundle asset unload --handle".

Examples:
  dbundle asset load ui/logo@texture
  dbundle asset load levels/intro --all -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runAssetLoad,
}

var assetUnloadCmd = &cobra.Command{
	Use:   "unload [path[@type]]",
	Short: "Release an asset by handle or by path",
	Long: `Release assets on a running manager, either one handle or every
record loaded at a path.

Examples:
  dbundle asset unload --handle 7
  dbundle asset unload ui/logo@texture --inherit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssetUnload,
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live (path, type) records",
	RunE:  runAssetList,
}

func init() {
	addOutputFlag(assetLoadCmd, &assetOutput)
	assetLoadCmd.Flags().BoolVar(&assetAll, "all", false, "Load every object at the path, not just the first")
	assetLoadCmd.Flags().DurationVar(&assetTimeout, "timeout", 30*time.Second, "Request timeout")

	assetUnloadCmd.Flags().Uint64Var(&assetHandle, "handle", 0, "Handle returned by load")
	assetUnloadCmd.Flags().BoolVar(&assetInherit, "inherit", false, "Also release types derived from the given type")

	addOutputFlag(assetListCmd, &assetOutput)

	assetCmd.AddCommand(assetLoadCmd)
	assetCmd.AddCommand(assetUnloadCmd)
	assetCmd.AddCommand(assetListCmd)
}

type objectsView []handlers.ObjectInfo

func (v objectsView) Headers() []string { return []string{"Name", "Path", "Type", "Unit", "Size"} }

func (v objectsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, o := range v {
		rows = append(rows, []string{o.Name, o.Path, o.Type, o.Unit, output.Bytes(int64(o.Size))})
	}
	return rows
}

func runAssetLoad(cmd *cobra.Command, args []string) error {
	ref, err := parseAssetRef(args[0])
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd, assetOutput)
	if err != nil {
		return err
	}

	res, err := newClient(assetTimeout).Load(cmd.Context(), handlers.LoadRequest{
		Path: ref.Path,
		Type: string(ref.Type),
		All:  assetAll,
	})
	if err != nil && res == nil {
		return err
	}
	if p.Format() != output.FormatTable {
		if perr := p.Print(res); perr != nil {
			return perr
		}
		return err
	}

	switch {
	case err != nil:
		p.Error(fmt.Sprintf("Load failed (handle %d): %s", res.Handle, res.Error))
		return err
	case res.Pending:
		p.Warning(fmt.Sprintf("Load pending, handle %d", res.Handle))
		return nil
	case res.Missing:
		p.Warning(fmt.Sprintf("Nothing found at %s, handle %d", ref.Path, res.Handle))
		return nil
	}
	p.Success(fmt.Sprintf("Loaded %d object(s), handle %d", len(res.Objects), res.Handle))
	return p.Print(objectsView(res.Objects))
}

func runAssetUnload(cmd *cobra.Command, args []string) error {
	if (assetHandle == 0) == (len(args) == 0) {
		return fmt.Errorf("give either --handle or a path")
	}
	client := newClient(0)

	var (
		n   int
		err error
	)
	if assetHandle != 0 {
		n, err = client.UnloadHandle(cmd.Context(), assetHandle)
		if apiErr, ok := apiclient.AsAPIError(err); ok && apiErr.IsNotFound() {
			return fmt.Errorf("no live handle %d", assetHandle)
		}
	} else {
		ref, perr := parseAssetRef(args[0])
		if perr != nil {
			return perr
		}
		n, err = client.UnloadPath(cmd.Context(), ref.Path, string(ref.Type), assetInherit)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", plural(n, "asset"))
	return nil
}

type keysView []handlers.AssetKey

func (v keysView) Headers() []string { return []string{"Path", "Type"} }

func (v keysView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, k := range v {
		rows = append(rows, []string{k.Path, k.Type})
	}
	return rows
}

func runAssetList(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd, assetOutput)
	if err != nil {
		return err
	}
	keys, err := newClient(0).Assets(cmd.Context())
	if err != nil {
		return err
	}
	if p.Format() == output.FormatTable {
		return p.Print(keysView(keys))
	}
	return p.Print(keys)
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
