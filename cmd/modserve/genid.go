package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/modserve/pkg/session"
)

var genidCmd = &cobra.Command{
	Use:   "genid",
	Short: "Print new session identifiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		remote, _ := cmd.Flags().GetString("remote")
		for range n {
			fmt.Fprintln(cmd.OutOrStdout(), session.GenerateID(remote))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genidCmd)
	genidCmd.Flags().IntP("count", "n", 1, "number of identifiers")
	genidCmd.Flags().String("remote", "", "client address mixed into the identifiers")
}
