package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the generators that ship with lantern
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for lantern",
	Long:  `Generate documentation for lantern`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
