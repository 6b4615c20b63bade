package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	documentCmd := &cobra.Command{Use: "document", Short: "Document operations"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the account's materialized document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet("/api/v1/document")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	documentCmd.AddCommand(getCmd)

	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Print tag usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet("/api/v1/document/tags")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	documentCmd.AddCommand(tagsCmd)

	rootCmd.AddCommand(documentCmd)
}
