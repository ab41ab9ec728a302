package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/gerbershot/pkg/archive"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
)

// inspectCommand creates the inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "Check an archive against the layer layout",
		Long: `Inspect lists the gerber layers an archive must contain and reports
which of them are missing, without extracting anything.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeArchives,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			return c.runInspect(args[0], cfg.Spec(), showAll)
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "list every entry in the archive")

	return cmd
}

func (c *CLI) runInspect(path string, spec layers.Spec, showAll bool) error {
	names, err := archive.Entries(path)
	if err != nil {
		return err
	}
	missing := layers.MissingNames(names, spec)
	absent := make(map[string]bool, len(missing))
	for _, e := range missing {
		absent[e.Role] = true
	}

	printKeyValue("Archive", filepath.Base(path))
	printKeyValue("Files", StyleNumber.Render(fmt.Sprint(len(names))))
	printNewline()

	printHeading("Layers")
	for _, e := range spec {
		printLayer(e.Role, e.Path, !absent[e.Role])
	}

	if showAll {
		printNewline()
		for _, n := range names {
			printFile(n)
		}
	}

	if len(missing) > 0 {
		printNewline()
		return &errors.MissingLayerError{Role: missing[0].Role, ExpectedPath: missing[0].Path}
	}
	printNewline()
	printNextStep("Convert it", "gerbershot convert "+path)
	return nil
}
