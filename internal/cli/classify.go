package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewClassifyCommand classifies local image files without touching any plant.
func NewClassifyCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify FILE...",
		Short: "Print the health label and sickness probability of image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.loadModel(); err != nil {
				return err
			}
			ev := a.evaluator()

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					failed++
					a.logger.Error("failed to read image", zap.String("path", path), zap.Error(err))
					continue
				}
				probability, label, err := ev.Classify(raw)
				if err != nil {
					failed++
					a.logger.Error("failed to classify image", zap.String("path", path), zap.Error(err))
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%.4f\n", path, label, probability)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be classified", failed, len(args))
			}
			return nil
		},
	}
}
