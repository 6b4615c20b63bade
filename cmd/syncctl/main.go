package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverFlag  string
	accountFlag string
	rootCmd     = &cobra.Command{
		Use:   "syncctl",
		Short: "CLI client for the syncd REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "http://localhost:8080", "syncd base URL")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "a", "", "Account ID (required)")
	_ = rootCmd.MarkPersistentFlagRequired("account")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
