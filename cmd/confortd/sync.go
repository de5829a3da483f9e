package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(configPath *string) *cobra.Command {
	var customers []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-read Stripe subscriptions of customers and apply the resulting tiers",
		Example: "  confortd sync --customer cus_123\n" +
			"  confortd sync --customer cus_123 --customer cus_456",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(customers) == 0 {
				return fmt.Errorf("at least one --customer is required")
			}

			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			var failed int
			for _, customerID := range customers {
				result, err := a.provider.SyncCustomer(cmd.Context(), customerID)
				if err != nil {
					failed++
					a.log.Error().Err(err).Str("customer_id", customerID).Msg("sync failed")
					continue
				}
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d customers failed to sync", failed, len(customers))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&customers, "customer", nil, "Stripe customer id (repeatable)")
	return cmd
}
