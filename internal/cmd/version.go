package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pacerd %s\n", versionInfo.Version)
		if extended {
			fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
			fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
			fmt.Fprintf(out, "Go: %s\n", runtime.Version())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
