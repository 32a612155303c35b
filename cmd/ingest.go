package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/lcdk/ingest"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// IngestMain is wrapped by NewIngestCommand and only exported for testing
// purposes.
var IngestMain *ingest.Main

// NewIngestCommand returns a new cobra command wrapping IngestMain.
func NewIngestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	IngestMain = ingest.NewMain()
	ingestCommand := &cobra.Command{
		Use:   "ingest",
		Short: "load light curves into the store",
		Long: `Scan a coordinate table and measurement files, create one child table
per object under the parent table, then write every object's observations
with a pool of workers. Progress is written to --progress-file and a stop
can be requested by creating --stop-file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			_, err := IngestMain.Run(ctx)
			return errors.Wrap(err, "ingesting")
		},
	}
	flags := ingestCommand.Flags()
	err := commandeer.Flags(flags, IngestMain)
	if err != nil {
		panic(err)
	}
	return ingestCommand
}

func init() {
	subcommandFns["ingest"] = NewIngestCommand
}
