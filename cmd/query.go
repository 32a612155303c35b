package cmd

import (
	"context"
	"io"

	"github.com/pilosa/lcdk/query"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// QueryMain is wrapped by NewQueryCommand and only exported for testing
// purposes.
var QueryMain *query.Main

// NewQueryCommand returns the query command with its cone, time and batch
// subcommands.
func NewQueryCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	QueryMain = query.NewMain()
	m := QueryMain
	queryCommand := &cobra.Command{
		Use:   "query",
		Short: "run cone searches and time range queries",
	}
	pf := queryCommand.PersistentFlags()
	pf.StringVarP(&m.Store, "store", "s", m.Store, "Store DSN: sqlite://<dir> or postgres://...")
	pf.StringVarP(&m.Container, "container", "d", m.Container, "Container (database) to query.")
	pf.StringVar(&m.Parent, "parent", m.Parent, "Name of the parent table.")
	pf.IntVar(&m.Nside, "nside", m.Nside, "HEALPix resolution the data was ingested with.")
	pf.Float64Var(&m.Expand, "expand", m.Expand, "Factor the cone radius is widened by for the coarse pixel lookup.")
	pf.Int64Var(&m.TimeStart, "time-start", m.TimeStart, "Lower bound on ts in epoch milliseconds (0 for none).")
	pf.Int64Var(&m.TimeEnd, "time-end", m.TimeEnd, "Upper bound on ts in epoch milliseconds (0 for none).")
	pf.IntVarP(&m.Limit, "limit", "l", m.Limit, "Maximum rows fetched per query (0 for no limit).")
	pf.StringVarP(&m.Output, "output", "o", m.Output, "CSV file (cone, time) or directory (batch) to export results to.")
	pf.IntVar(&m.Show, "show", m.Show, "Rows printed when not exporting.")
	pf.BoolVarP(&m.Verbose, "verbose", "v", m.Verbose, "Enable debug logging.")

	cone := &cobra.Command{
		Use:   "cone",
		Short: "rows within --radius degrees of (--ra, --dec)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.RunCone(context.Background(), stdout)
		},
	}
	coneFlags(cone.Flags(), m)

	timeCommand := &cobra.Command{
		Use:   "time",
		Short: "one object's light curve in timestamp order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.RunTime(context.Background(), stdout)
		},
	}
	timeCommand.Flags().Int64Var(&m.SourceID, "source-id", m.SourceID, "Object id.")

	batch := &cobra.Command{
		Use:   "batch",
		Short: "cone searches for every ra,dec,radius line of --input",
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.RunBatch(context.Background(), stdout)
		},
	}
	batch.Flags().StringVarP(&m.Input, "input", "i", m.Input, "CSV file of ra,dec,radius lines with a header.")

	queryCommand.AddCommand(cone, timeCommand, batch)
	return queryCommand
}

func coneFlags(flags *pflag.FlagSet, m *query.Main) {
	flags.Float64Var(&m.RA, "ra", m.RA, "Right ascension of the center in degrees.")
	flags.Float64Var(&m.Dec, "dec", m.Dec, "Declination of the center in degrees.")
	flags.Float64Var(&m.Radius, "radius", m.Radius, "Radius in degrees.")
}

func init() {
	subcommandFns["query"] = NewQueryCommand
}
