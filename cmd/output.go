package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

// streams are the writers a command reports to. Tests swap them through
// cobra's SetOut and SetErr.
type streams struct {
	out io.Writer
	err io.Writer
}

func streamsOf(cmd *cobra.Command) streams {
	return streams{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
}
