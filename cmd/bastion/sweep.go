package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired tokens and authorization codes once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			st, closeStore, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := st.DeleteExpiredTokens(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired rows\n", n)
			return nil
		},
	}
}
