package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the raw API response")
	rootCmd.AddCommand(showCmd)
}

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show TASK",
	Short: "Show detailed information about a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var out struct {
		Task           domain.Task            `json:"task"`
		SubTaskResults []domain.SubTaskResult `json:"subtask_results"`
	}
	if err := c.get("/tasks/"+args[0], &out); err != nil {
		return err
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	task := out.Task
	fmt.Printf("Task:      %s\n", task.ID)
	fmt.Printf("State:     %s\n", task.State)
	fmt.Printf("Submitter: %s\n", task.SubmitterID)
	fmt.Printf("Created:   %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if task.Error != "" {
		fmt.Printf("Error:     %s\n", task.Error)
	}
	fmt.Printf("Goal:      %s\n", task.Description)

	// Outcome per subtask comes from the persisted results; anything
	// without a row has not finished yet.
	outcomes := make(map[string]domain.SubTaskResult, len(out.SubTaskResults))
	for _, r := range out.SubTaskResults {
		outcomes[r.SubTaskID] = r
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBTASK\tOUTCOME\tCAPABILITIES\tDEPS\tWORKER\tTIME")
	for _, st := range task.SubTasks {
		outcome, worker, elapsed := "pending", "-", "-"
		if r, ok := outcomes[st.ID]; ok {
			outcome = string(r.Outcome)
			worker = r.WorkerID
			elapsed = fmt.Sprintf("%.2fs", r.ExecutionTimeSeconds)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			st.ID,
			outcome,
			joinCapabilities(st.RequiredCapabilities),
			len(st.Dependencies),
			worker,
			elapsed,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(task.AggregateResult) > 0 {
		var agg domain.AggregateResult
		if err := json.Unmarshal(task.AggregateResult, &agg); err == nil && agg.Summary != "" {
			fmt.Printf("\nSummary: %s\n", agg.Summary)
		}
	}
	return nil
}

func joinCapabilities(caps []domain.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// ageOf renders a compact relative age for table output.
func ageOf(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
