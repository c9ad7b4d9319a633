package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks on a dispatchd server",
}

type taskListEntry struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	AssignedNodeID  *string  `json:"assigned_node_id,omitempty"`
	AssignedNodeIDs []string `json:"assigned_node_ids,omitempty"`
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		status, _ := cmd.Flags().GetString("status")
		nodeID, _ := cmd.Flags().GetString("node")

		c := newAPIClient(server)
		path := "/tasks"
		switch {
		case status != "":
			path = "/tasks?status=" + status
		case nodeID != "":
			path = "/tasks?nodeId=" + nodeID
		}

		var tasks []taskListEntry
		if err := c.getJSON(path, &tasks); err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-6s %-24s %-14s %-10s %-38s\n", "ID", "NAME", "TYPE", "STATUS", "ASSIGNED")
		for _, t := range tasks {
			assigned := "-"
			if t.AssignedNodeID != nil {
				assigned = *t.AssignedNodeID
			}
			fmt.Printf("%-6d %-24s %-14s %-10s %-38s\n",
				t.ID, truncate(t.Name, 24), t.Type, t.Status, truncate(assigned, 38))
		}
		return nil
	},
}

var taskPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the tasks a node should process now",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		nodeID, _ := cmd.Flags().GetString("node")
		if nodeID == "" {
			return fmt.Errorf("--node is required")
		}

		c := newAPIClient(server)
		var tasks []taskListEntry
		if err := c.getJSON("/tasks/poll?nodeId="+nodeID, &tasks); err != nil {
			return fmt.Errorf("polling tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks to process")
			return nil
		}

		fmt.Printf("%-6s %-24s %-14s %-10s\n", "ID", "NAME", "TYPE", "STATUS")
		for _, t := range tasks {
			fmt.Printf("%-6d %-24s %-14s %-10s\n", t.ID, truncate(t.Name, 24), t.Type, t.Status)
		}
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskPollCmd)
	taskCmd.PersistentFlags().String("server", "127.0.0.1:8080", "dispatchd server address")
	taskListCmd.Flags().String("status", "", "filter by status")
	taskListCmd.Flags().String("node", "", "filter by assigned node id")
	taskPollCmd.Flags().String("node", "", "node id to poll for")
}
