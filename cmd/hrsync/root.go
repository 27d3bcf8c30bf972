package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hrsync",
		Short:         "Provision LDAP and Active Directory accounts from HR extracts",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, CommitHash, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Configuration file (default: config.yaml in ., ./configs or /etc/hrsync)")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
