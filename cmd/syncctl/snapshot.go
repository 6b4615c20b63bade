package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	snapshotsCmd := &cobra.Command{Use: "snapshots", Short: "Snapshot operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the account's snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet("/api/v1/snapshots")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	snapshotsCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Force a snapshot regardless of the backlog threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPost("/api/v1/snapshots")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	snapshotsCmd.AddCommand(createCmd)

	rootCmd.AddCommand(snapshotsCmd)
}
