package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/lcdk/candidates"
	"github.com/spf13/cobra"
)

// NewCandidatesCommand returns a command finding objects due for
// classification.
func NewCandidatesCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(candidates.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "candidates"
	com.Short = "queue new and grown objects for classification"
	return com
}

func init() {
	subcommandFns["candidates"] = NewCandidatesCommand
}
