package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Manage the model pricing cache",
}

var pricingRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch current model prices from OpenRouter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, err := openApp(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.catalog.Refresh(ctx, a.openrouter)
		if err != nil {
			return fmt.Errorf("refresh pricing: %w", err)
		}
		goodColor.Fprintf(cmd.OutOrStdout(), "✓ cached prices for %d models\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pricingCmd)
	pricingCmd.AddCommand(pricingRefreshCmd)
}
