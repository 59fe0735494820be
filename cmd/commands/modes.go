package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/neorix/internal/modes"
)

// NewModesCommand returns the modes subcommand.
func NewModesCommand() *cli.Command {
	return &cli.Command{
		Name:  "modes",
		Usage: "List the available modes",
		Action: func(_ context.Context, _ *cli.Command) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tTEMPERATURE")
			for _, m := range modes.All() {
				cfg := modes.ConfigFor(m)
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\n", m, cfg.Name, cfg.Model, cfg.Temperature)
			}
			return w.Flush()
		},
	}
}
