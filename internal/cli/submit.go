package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	submitCmd.Flags().StringVar(&submitSubmitter, "submitter", "", `Submitter id (default "default_user")`)
	submitCmd.Flags().StringVar(&submitAttachments, "attachments", "", "Opaque attachments reference recorded with the task")
	rootCmd.AddCommand(submitCmd)
}

var (
	submitSubmitter   string
	submitAttachments string
)

var submitCmd = &cobra.Command{
	Use:   "submit DESCRIPTION",
	Short: "Submit a task for decomposition and execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	req := map[string]string{"description": args[0]}
	if submitSubmitter != "" {
		req["submitter_id"] = submitSubmitter
	}
	if submitAttachments != "" {
		req["attachments_ref"] = submitAttachments
	}

	var out struct {
		TaskID        string `json:"task_id"`
		Status        string `json:"status"`
		SubTasksCount int    `json:"subtasks_count"`
		InitialQueued int    `json:"initial_subtasks_queued"`
	}
	if err := c.post("/tasks", req, &out); err != nil {
		return err
	}

	fmt.Printf("Task:     %s\n", out.TaskID)
	fmt.Printf("Subtasks: %d (%d queued)\n", out.SubTasksCount, out.InitialQueued)
	fmt.Printf("Watch it with 'multiagent show %s'\n", out.TaskID)
	return nil
}
