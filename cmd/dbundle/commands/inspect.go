package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/pkg/manifest"
	"github.com/marmos91/dittobundle/pkg/source"
)

var (
	inspectOutput   string
	inspectManifest string
	inspectResolve  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect unit and manifest files offline",
}

var inspectUnitCmd = &cobra.Command{
	Use:   "unit <file>",
	Short: "List the assets of a packed unit",
	Long: `Decode a packed unit file and list its assets.

With --manifest the unit's content hash is checked against the hash the
manifest declares for it.

Examples:
  dbundle inspect unit units/ui.pack
  dbundle inspect unit units/ui.pack --manifest units/manifest.yaml -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectUnit,
}

var inspectManifestCmd = &cobra.Command{
	Use:   "manifest <file>",
	Short: "Validate a manifest and list its units",
	Long: `Parse and validate a manifest, then list its units and dependencies.

With --resolve the locations of one logical path are printed instead.

Examples:
  dbundle inspect manifest units/manifest.yaml
  dbundle inspect manifest units/manifest.yaml --resolve ui/logo`,
	Args: cobra.ExactArgs(1),
	RunE: runInspectManifest,
}

func init() {
	addOutputFlag(inspectUnitCmd, &inspectOutput)
	inspectUnitCmd.Flags().StringVar(&inspectManifest, "manifest", "", "Manifest to verify the unit hash against")

	addOutputFlag(inspectManifestCmd, &inspectOutput)
	inspectManifestCmd.Flags().StringVar(&inspectResolve, "resolve", "", "Print the locations of this logical path")

	inspectCmd.AddCommand(inspectUnitCmd)
	inspectCmd.AddCommand(inspectManifestCmd)
}

// UnitReport is the result of inspecting a unit file.
type UnitReport struct {
	File     string             `json:"file" yaml:"file"`
	Unit     string             `json:"unit" yaml:"unit"`
	Hash     string             `json:"hash" yaml:"hash"`
	Packed   int64              `json:"packed_size" yaml:"packed_size"`
	Payload  int64              `json:"payload_size" yaml:"payload_size"`
	Assets   []source.AssetInfo `json:"assets" yaml:"assets"`
	Declared string             `json:"declared_hash,omitempty" yaml:"declared_hash,omitempty"`
	Verified *bool              `json:"verified,omitempty" yaml:"verified,omitempty"`
}

func (r *UnitReport) Headers() []string { return []string{"Path", "Name", "Type", "Size"} }

func (r *UnitReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		rows = append(rows, []string{a.Path, a.Name, a.Type.String(), output.Bytes(a.Size)})
	}
	return rows
}

// inspectUnit decodes the unit at file and, when mf is non-nil, checks its
// hash against the declaration.
func inspectUnit(file string, mf *manifest.Manifest) (*UnitReport, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	h, err := source.DecodePack(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	defer h.Unload(false)

	r := &UnitReport{
		File:    file,
		Unit:    h.Unit(),
		Hash:    source.Hash(raw),
		Packed:  int64(len(raw)),
		Payload: h.Size(),
		Assets:  h.Assets(),
	}
	if mf != nil {
		if !mf.Has(r.Unit) {
			return r, fmt.Errorf("unit %q is not declared in the manifest", r.Unit)
		}
		r.Declared = mf.Hash(r.Unit)
		ok := r.Declared == "" || r.Declared == r.Hash
		r.Verified = &ok
	}
	return r, nil
}

func runInspectUnit(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd, inspectOutput)
	if err != nil {
		return err
	}

	var mf *manifest.Manifest
	if inspectManifest != "" {
		if mf, err = manifest.Load(inspectManifest); err != nil {
			return err
		}
	}

	r, err := inspectUnit(args[0], mf)
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(r)
	}

	pairs := [][2]string{
		{"Unit", r.Unit},
		{"Hash", r.Hash},
		{"Packed", output.Bytes(r.Packed)},
		{"Payload", output.Bytes(r.Payload)},
		{"Assets", strconv.Itoa(len(r.Assets))},
	}
	if err := output.KeyValues(p.Writer(), pairs); err != nil {
		return err
	}
	p.Println()
	if err := p.Print(r); err != nil {
		return err
	}

	if r.Verified != nil {
		p.Println()
		switch {
		case r.Declared == "":
			p.Warning("Manifest declares no hash for this unit")
		case *r.Verified:
			p.Success("Hash matches manifest")
		default:
			p.Error("Hash mismatch: manifest declares " + r.Declared)
			return source.ErrHashMismatch
		}
	}
	return nil
}

type manifestView struct {
	*manifest.Manifest
}

func (v manifestView) Headers() []string { return []string{"Unit", "Hash", "Deps"} }

func (v manifestView) Rows() [][]string {
	names := v.UnitNames()
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		hash := v.Hash(n)
		if len(hash) > 16 {
			hash = hash[:16]
		}
		rows = append(rows, []string{n, hash, strings.Join(v.Units[n].Deps, ",")})
	}
	return rows
}

type locationsView []manifest.Location

func (v locationsView) Headers() []string { return []string{"Unit", "Asset"} }

func (v locationsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, l := range v {
		rows = append(rows, []string{l.Unit, l.Asset})
	}
	return rows
}

func runInspectManifest(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd, inspectOutput)
	if err != nil {
		return err
	}
	mf, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	if err := mf.Validate(); err != nil {
		return err
	}

	if inspectResolve != "" {
		locs := mf.Resolve(inspectResolve)
		if len(locs) == 0 {
			p.Warning(fmt.Sprintf("%s is not redirected; it resolves through flat storage", inspectResolve))
			return nil
		}
		return p.Print(locationsView(locs))
	}

	if p.Format() != output.FormatTable {
		return p.Print(mf)
	}
	p.Printf("Version %d, %d unit(s), %d redirect(s)\n\n", mf.Version, len(mf.Units), len(mf.Redirects))
	return p.Print(manifestView{mf})
}
