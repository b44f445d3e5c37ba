package cli

import (
	"fmt"
	"io"

	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/spf13/cobra"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <engine-path>",
		Short: "Check that an executable speaks USI and list its options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			md, err := usi.Probe(cmd.Context(), args[0])
			if err != nil {
				return out.failure(ExitFailure, "probe failed", err)
			}
			return out.success(md, func(w io.Writer) { printMetadata(w, md) })
		},
	}
}

func printMetadata(w io.Writer, md usi.Metadata) {
	fmt.Fprintf(w, "name:    %s\n", md.Name)
	if md.Author != "" {
		fmt.Fprintf(w, "author:  %s\n", md.Author)
	}
	fmt.Fprintf(w, "options: %d\n", len(md.Options))
	for _, o := range md.Options {
		fmt.Fprintf(w, "  %s\n", o)
	}
}
