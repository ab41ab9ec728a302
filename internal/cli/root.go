package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/gerbershot/pkg/buildinfo"
)

// RootCommand creates the root cobra command with all subcommands registered.
//
// The --config flag is persistent so that every subcommand reads the same
// TOML file; environment variables override it.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Gerbershot renders zipped gerber exports as PNG board images",
		Long: `Gerbershot is a CLI tool and upload server that turns a zipped gerber
export from a PCB CAM processor into a PNG image of the top side of the board.`,
		Version:      buildinfo.Get().Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a TOML config file")

	// Register all subcommands
	root.AddCommand(c.convertCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}
