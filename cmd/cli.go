package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/internal/shell"
)

var (
	// The server to connect to
	cliHost string
	cliPort int

	// How long to wait for each reply
	cliTimeout time.Duration
)

func init() {
	flags := CliCmd.PersistentFlags()

	flags.StringVarP(&cliHost, "host", "a", "127.0.0.1", "The server host")
	flags.IntVarP(&cliPort, "port", "p", 6379, "The server port")
	flags.DurationVar(&cliTimeout, "timeout", 5*time.Second, "How long to wait for each reply")
}

var CliCmd = &cobra.Command{
	Use:   "cli [command [args...]]",
	Short: "Talk to a Lantern server",
	Long: `Talk to a Lantern server

Runs a single command if one is given, otherwise starts an interactive shell.

Usage
	lantern cli set greeting "hello world"
	lantern cli

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := net.JoinHostPort(cliHost, strconv.Itoa(cliPort))

		conn := client.New(nil)
		if err := conn.Connect(cmd.Context(), addr); err != nil {
			return err
		}
		defer conn.Disconnect()

		if len(args) > 0 {
			words := make([][]byte, len(args))
			for i, arg := range args {
				words[i] = []byte(arg)
			}

			return runCommand(cmd.Context(), cmd.OutOrStdout(), conn, words)
		}

		return runShell(cmd.Context(), cmd.OutOrStdout(), conn, addr)
	},
}

func runShell(ctx context.Context, out io.Writer, conn *client.Conn, addr string) error {
	config := &readline.Config{
		Prompt: addr + "> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("PING"),
			readline.PcItem("ECHO"),
			readline.PcItem("GET"),
			readline.PcItem("SET"),
			readline.PcItem("DEL"),
			readline.PcItem("QUIT"),
		),
	}

	if home, err := homedir.Dir(); err == nil {
		config.HistoryFile = filepath.Join(home, ".lantern_history")
	}

	input, err := readline.NewEx(config)
	if err != nil {
		return err
	}
	defer input.Close()

	input.CaptureExitSignal()

	for {
		line, err := input.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		words, err := shell.Split(line)
		if err != nil {
			fmt.Fprintf(out, "(error) %s\n", err)
			continue
		}

		if len(words) == 0 {
			continue
		}

		if strings.EqualFold(string(words[0]), "exit") {
			return nil
		}

		if err := runCommand(ctx, out, conn, words); err != nil {
			return err
		}

		if strings.EqualFold(string(words[0]), "quit") {
			return nil
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, conn *client.Conn, words [][]byte) error {
	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	reply, err := conn.Do(ctx, words...)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, shell.Format(reply))
	return nil
}
