package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cancelCmd)
}

var cancelCmd = &cobra.Command{
	Use:   "cancel TASK",
	Short: "Cancel a task that has not finished yet",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := c.post("/tasks/"+args[0]+"/cancel", nil, &out); err != nil {
		return err
	}

	fmt.Printf("Task %s cancelled. In-flight subtasks will not be replaced.\n", out.TaskID)
	return nil
}
