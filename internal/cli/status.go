package cli

import (
	"github.com/spf13/cobra"

	"collateralwatch/internal/app"
)

var statusPersist bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh every collateral once and print the basket",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.StatusOptions{
			Persist: statusPersist,
		}
		return getApp().Status(cmd.Context(), opts)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusPersist, "persist", false, "Persist the refresh pass to the database")
}
