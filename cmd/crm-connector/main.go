package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var mgmtAddr string
	var apiAddr string
	var orgType string

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "crm-connector",
	}

	var connectorServiceCmd = &cobra.Command{
		Use:   "connector_service",
		Short: "CRM Connector Service",
		Run: func(cmd *cobra.Command, args []string) {
			startConnectorService(mgmtAddr, apiAddr, orgType)
		},
	}

	var bulkObjectSyncCmd = &cobra.Command{
		Use:   "bulk_object_sync",
		Short: "Load full snapshots of the registered objects over the bulk query API",
		Run: func(cmd *cobra.Command, args []string) {
			startBulkObjectSync(orgType)
		},
	}

	var rateLimitResetterCmd = &cobra.Command{
		Use:   "rate_limit_resetter",
		Short: "Reset the daily rate limit records",
		Run: func(cmd *cobra.Command, args []string) {
			startRateLimitResetter()
		},
	}

	rootCmd.AddCommand(connectorServiceCmd)
	connectorServiceCmd.Flags().StringVarP(&mgmtAddr, "mgmt-addr", "m", ":9090", "Hostname:port of the management server")
	connectorServiceCmd.Flags().StringVarP(&apiAddr, "api-addr", "a", ":8080", "Hostname:port of the api server")
	connectorServiceCmd.Flags().StringVarP(&orgType, "org-type", "o", "production", "Org type to connect to (production or sandbox)")

	rootCmd.AddCommand(bulkObjectSyncCmd)
	bulkObjectSyncCmd.Flags().StringVarP(&orgType, "org-type", "o", "production", "Org type to connect to (production or sandbox)")

	rootCmd.AddCommand(rateLimitResetterCmd)

	return rootCmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
