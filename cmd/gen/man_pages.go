package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/lantern/internal/meta"
)

var (
	manDir     string
	manSection string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for the lantern server and cli",
	Long: `This command automatically generates up-to-date man pages for every
	lantern command.  By default, it creates the man page files
	in the "man" directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return writeManPages(cmd, manDir, manSection)
	},
}

func writeManPages(cmd *cobra.Command, dir, section string) error {
	out := cmd.OutOrStdout()

	header := &doc.GenManHeader{
		Section: section,
		Manual:  "Lantern Manual",
		Source:  fmt.Sprintf("lantern %s", meta.Version),
	}

	if _, err := os.Stat(dir); err != nil && os.IsNotExist(err) {
		fmt.Fprintln(out, "Directory", dir, "does not exist, creating...")
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}

	root := cmd.Root()
	root.DisableAutoGenTag = true

	fmt.Fprintln(out, "Generating lantern man pages in", dir, "...")

	if err := doc.GenManTree(root, header, dir); err != nil {
		return fmt.Errorf("Failed to generate man pages: %w", err)
	}

	fmt.Fprintln(out, "Done.")

	return nil
}

func init() {
	flags := ManPagesCmd.PersistentFlags()

	flags.StringVar(&manDir, "dir", "man", "the directory to write the man pages.")
	flags.StringVar(&manSection, "section", "1", "the man page section.")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
