package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices and their sync cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet("/api/v1/sync/devices")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}

	rootCmd.AddCommand(devicesCmd)
}
