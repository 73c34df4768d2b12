package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/pkg/apiclient"
	"github.com/marmos91/dittobundle/pkg/lifecycle"
)

var (
	statusOutput  string
	statusTimeout time.Duration
	unitsOutput   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running manager",
	Long: `Query a running dbundle over its HTTP API and print a summary of its
manager: readiness, units by state, queue depth and orphan counts.

Examples:
  dbundle status
  dbundle status --server http://10.0.0.5:8080 -o json`,
	RunE: runStatus,
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List the units of a running manager",
	RunE:  runUnits,
}

func init() {
	addOutputFlag(statusCmd, &statusOutput)
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Request timeout")
	addOutputFlag(unitsCmd, &unitsOutput)
}

// statsView renders lifecycle.Stats as key/value rows.
type statsView struct {
	*lifecycle.Stats
}

func (v statsView) Headers() []string { return []string{"Field", "Value"} }

func (v statsView) Rows() [][]string {
	states := make([]string, 0, len(v.Units))
	for s := range v.Units {
		states = append(states, s)
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", s, v.Units[s]))
	}

	return [][]string{
		{"Instance", v.InstanceID},
		{"Ready", strconv.FormatBool(v.Ready)},
		{"Units", strings.Join(parts, " ")},
		{"Requests", strconv.Itoa(v.Requests)},
		{"Entries", strconv.Itoa(v.Entries)},
		{"Levels", strconv.Itoa(v.Levels)},
		{"Deferred loads", strconv.Itoa(v.Deferred)},
		{"Unload queue", strconv.Itoa(v.UnloadQueue)},
		{"Tracked objects", strconv.Itoa(v.Tracked)},
		{"Indexed objects", strconv.Itoa(v.IndexedObjects)},
		{"Flat orphans", strconv.Itoa(v.FlatOrphans)},
		{"Sweeps", strconv.Itoa(v.Sweeps)},
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd, statusOutput)
	if err != nil {
		return err
	}

	stats, err := newClient(statusTimeout).Stats(cmd.Context())
	if err != nil {
		if apiErr, ok := apiclient.AsAPIError(err); ok && apiErr.IsUnavailable() {
			p.Warning("Manager unavailable: " + apiErr.Message)
			return err
		}
		return fmt.Errorf("cannot reach %s: %w", serverURL, err)
	}

	if p.Format() != output.FormatTable {
		return p.Print(stats)
	}
	if stats.Ready {
		p.Success("Manager ready")
	} else {
		p.Warning("Manager bootstrapping")
	}
	return output.KeyValues(p.Writer(), statsView{stats}.Rows())
}

// unitsView renders unit snapshots as a table.
type unitsView []lifecycle.UnitInfo

func (v unitsView) Headers() []string {
	return []string{"Unit", "State", "Refs", "Pins", "Source", "Queued", "Attempts", "Error"}
}

func (v unitsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, u := range v {
		queued := ""
		if u.Queued {
			queued = "yes"
		}
		rows = append(rows, []string{
			u.Name,
			u.State,
			strconv.Itoa(u.RefCount),
			strconv.Itoa(u.Pins),
			u.Source,
			queued,
			strconv.Itoa(u.Attempts),
			u.Error,
		})
	}
	return rows
}

func runUnits(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd, unitsOutput)
	if err != nil {
		return err
	}
	units, err := newClient(0).Units(cmd.Context())
	if err != nil {
		return err
	}
	if len(units) == 0 && p.Format() == output.FormatTable {
		p.Println("No units registered.")
		return nil
	}
	if p.Format() == output.FormatTable {
		return p.Print(unitsView(units))
	}
	return p.Print(units)
}
