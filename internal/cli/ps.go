package cli

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/domain"
)

func init() {
	psCmd.Flags().StringVar(&psSubmitter, "submitter", "", "Only list tasks from this submitter")
	psCmd.Flags().IntVar(&psLimit, "limit", 50, "Maximum number of tasks to list")
	rootCmd.AddCommand(psCmd)
}

var (
	psSubmitter string
	psLimit     int
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tasks, newest first",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	q := url.Values{}
	if psSubmitter != "" {
		q.Set("submitter_id", psSubmitter)
	}
	if psLimit > 0 {
		q.Set("limit", strconv.Itoa(psLimit))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Tasks []domain.Task `json:"tasks"`
		Count int           `json:"count"`
	}
	if err := c.get(path, &out); err != nil {
		return err
	}

	if len(out.Tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tSUBTASKS\tSUBMITTER\tAGE")
	for _, t := range out.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.State,
			len(t.SubTasks),
			t.SubmitterID,
			ageOf(t.CreatedAt),
		)
	}
	return w.Flush()
}
