package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// historyCommand creates the history command.
func (c *CLI) historyCommand() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recent conversions",
		Long: `Show recent conversions recorded by convert and serve.

With an ID, print that single record as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			st, err := newStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				rec, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return errors.New(errors.ErrCodeNotFound, "no conversion with id %s", args[0])
				}
				return printJSON(rec)
			}

			recs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(recs)
			}
			if len(recs) == 0 {
				printInfo("No conversions recorded yet")
				return nil
			}
			writeLine(renderHistory(recs, time.Now()))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "maximum number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
