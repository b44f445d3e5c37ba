package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/park285/usi-supervisor/internal/health"
	"github.com/park285/usi-supervisor/internal/optstore"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"github.com/spf13/cobra"
)

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every engine in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout())
			if catalogPath == "" {
				catalogPath = strings.TrimSpace(os.Getenv("USI_CATALOG"))
			}
			if catalogPath == "" {
				return out.failure(ExitCommandError, "no catalog", fmt.Errorf("pass --catalog or set USI_CATALOG"))
			}
			cat, err := optstore.LoadCatalog(catalogPath)
			if err != nil {
				return out.failure(ExitCommandError, "load catalog", err)
			}

			report := health.Check(cmd.Context(), cat.Engines(), nil)
			if err := out.success(report, func(w io.Writer) { printHealth(w, report) }); err != nil {
				return err
			}
			for _, h := range report {
				if h.Status == usidto.HealthUnhealthy {
					return &ExitError{Code: ExitFailure, Message: "engine " + h.ID + " is unhealthy"}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "engines catalog file (default $USI_CATALOG)")
	return cmd
}

func printHealth(w io.Writer, report []usidto.EngineHealth) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tERROR")
	for _, h := range report {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, h.Name, h.Status, h.Error)
	}
	_ = tw.Flush()
}
