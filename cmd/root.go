package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/lantern/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "lantern",
	Short: "A small RESP key value server",
	Long: `Lantern speaks the Redis serialisation protocol (RESP2) and keeps
a handful of keys in memory. It understands PING, ECHO, GET, SET, DEL and QUIT.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(CliCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the command named on the command line.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
