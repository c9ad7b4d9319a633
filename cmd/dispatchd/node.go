package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect nodes registered with a dispatchd server",
}

type nodeListEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	IPAddress     string `json:"ip_address"`
	IsAvailable   bool   `json:"is_available"`
	LastHeartbeat string `json:"last_heartbeat"`
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		all, _ := cmd.Flags().GetBool("all")

		c := newAPIClient(server)
		path := "/nodes"
		if all {
			path = "/nodes/all"
		}

		var nodes []nodeListEntry
		if err := c.getJSON(path, &nodes); err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}

		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}

		fmt.Printf("%-38s %-20s %-16s %-10s\n", "ID", "NAME", "IP ADDRESS", "AVAILABLE")
		for _, n := range nodes {
			fmt.Printf("%-38s %-20s %-16s %-10v\n",
				truncate(n.ID, 38), truncate(n.Name, 20), n.IPAddress, n.IsAvailable)
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.PersistentFlags().String("server", "127.0.0.1:8080", "dispatchd server address")
	nodeListCmd.Flags().Bool("all", false, "include unavailable nodes")
}
