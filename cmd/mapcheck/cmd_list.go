package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pinchtab/mapcheck/internal/config"
	"github.com/pinchtab/mapcheck/internal/soilmap"
)

var listSuite string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the checks the suite would run, in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := listSuite
		if path == "" {
			path = config.Load().SuitePath
		}
		exp, err := soilmap.LoadExpectations(path)
		if err != nil {
			return err
		}
		for i, step := range soilmap.Steps(&soilmap.Env{Exp: exp}) {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, step.Name)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listSuite, "suite", "", "expectations YAML (default built-in)")
	rootCmd.AddCommand(listCmd)
}
