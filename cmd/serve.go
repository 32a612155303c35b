package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/lcdk/server"
	"github.com/spf13/cobra"
)

// NewServeCommand returns a command serving the HTTP query API.
func NewServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(server.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "serve"
	com.Short = "serve cone searches, light curves and import progress over HTTP"
	return com
}

func init() {
	subcommandFns["serve"] = NewServeCommand
}
