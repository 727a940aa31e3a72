package cli

import (
	"github.com/spf13/cobra"
)

// NewMigrateCommand ensures the photo table exists.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the photo table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openDatabase(cmd.Context()); err != nil {
				return err
			}
			if err := a.photos.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("photo table created or verified")
			return nil
		},
	}
}
