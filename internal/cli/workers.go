package cli

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

func init() {
	workersCmd.Flags().StringVar(&workersCapability, "capability", "", "Only show workers available for this capability")
	rootCmd.AddCommand(workersCmd)
}

var workersCapability string

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List live workers registered with the orchestrator",
	RunE:  runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	if workersCapability != "" {
		q := url.Values{"capability": {workersCapability}}
		var out struct {
			Available []string `json:"available"`
			Count     int      `json:"count"`
		}
		if err := c.get("/workers/available?"+q.Encode(), &out); err != nil {
			return err
		}
		if out.Count == 0 {
			fmt.Printf("No workers available for %s.\n", workersCapability)
			return nil
		}
		for _, id := range out.Available {
			fmt.Println(id)
		}
		return nil
	}

	var out struct {
		Workers []domain.Worker `json:"workers"`
	}
	if err := c.get("/workers", &out); err != nil {
		return err
	}

	if len(out.Workers) == 0 {
		fmt.Println("No live workers.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tSTATUS\tCAPABILITIES\tCPU\tMEM\tDONE\tLAST SEEN")
	for _, wk := range out.Workers {
		status := "available"
		if !wk.Available {
			status = "busy"
			if wk.CurrentSubTaskID != "" {
				status = "busy (" + wk.CurrentSubTaskID + ")"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%.0f%%\t%d\t%s\n",
			wk.ID,
			status,
			joinCapabilities(wk.Capabilities),
			wk.CPUPct,
			wk.MemPct,
			wk.CompletedCount,
			wk.LastHeartbeatAt.Local().Format("15:04:05"),
		)
	}
	return w.Flush()
}
