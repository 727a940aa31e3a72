package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/usecase"
)

// NewReconcileCommand runs a fixed number of cycles and prints each report.
func NewReconcileCommand(root *RootOptions) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a fixed number of reconciliation cycles and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(root, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openDatabase(ctx); err != nil {
				return err
			}
			if err := a.loadModel(); err != nil {
				return err
			}

			reconciler, err := a.newReconciler(ctx, usecase.WithObserver(newReportPrinter(cmd.OutOrStdout())))
			if err != nil {
				return err
			}
			return runReconciler(ctx, reconciler, cycles)
		},
	}

	cmd.Flags().IntVarP(&cycles, "cycles", "n", 1, "number of cycles to run (0 runs forever)")
	return cmd
}

// runReconciler runs cycles until done or stopped. A stop request is a clean exit.
func runReconciler(ctx context.Context, r *usecase.Reconciler, cycles int) error {
	err := r.Run(ctx, cycles)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportPrinter writes every finished cycle report as one JSON line.
type reportPrinter struct {
	enc *json.Encoder
}

func newReportPrinter(w io.Writer) *reportPrinter {
	return &reportPrinter{enc: json.NewEncoder(w)}
}

func (p *reportPrinter) ObserveCycle(report *usecase.CycleReport) {
	_ = p.enc.Encode(report)
}
