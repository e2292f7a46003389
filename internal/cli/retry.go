package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(retryCmd)
}

var retryCmd = &cobra.Command{
	Use:   "retry TASK",
	Short: "Re-run the failed subtasks of a failed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var out struct {
		TaskID   string `json:"task_id"`
		Status   string `json:"status"`
		Requeued int    `json:"requeued"`
	}
	if err := c.post("/tasks/"+args[0]+"/retry", nil, &out); err != nil {
		return err
	}

	fmt.Printf("Task %s is %s again (%d subtasks requeued)\n", out.TaskID, out.Status, out.Requeued)
	return nil
}
