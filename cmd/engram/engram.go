// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	initcmder "github.com/papercomputeco/engram/cmd/engram/init"
	jobscmder "github.com/papercomputeco/engram/cmd/engram/jobs"
	recallcmder "github.com/papercomputeco/engram/cmd/engram/recall"
	remembercmder "github.com/papercomputeco/engram/cmd/engram/remember"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	versioncmder "github.com/papercomputeco/engram/cmd/engram/version"
)

const engramLongDesc string = `Engram is a long-term memory store for AI agents.

It ingests raw text, extracts durable facts, resolves conflicts between
claims, and serves ranked memory context back to agents.

Common commands:
  engram serve                Run the memory server (HTTP API + MCP)
  engram remember "<text>"    Store a memory via a running server
  engram recall "<query>"     Retrieve memory context from a running server
  engram jobs run nightly     Run a maintenance job against local storage`

const engramShortDesc string = "Engram - Agent Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .engram config directory (default: auto-resolve)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(jobscmder.NewJobsCmd())
	cmd.AddCommand(remembercmder.NewRememberCmd())
	cmd.AddCommand(recallcmder.NewRecallCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
