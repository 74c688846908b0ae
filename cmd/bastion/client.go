package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/internal/security/secret"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

// clientCmd manages clients directly against the storage backend, for
// bootstrapping before the admin API has any caller with clients:write.
func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients against the storage backend",
	}
	cmd.AddCommand(clientAddCmd(), clientListCmd())
	return cmd
}

func clientAddCmd() *cobra.Command {
	var (
		name         string
		redirectURIs []string
		grants       []string
		scopes       []string
		confidential bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a client and print its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, closeStore, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			now := time.Now().UTC()
			c := &store.Client{
				ClientID:     uuid.NewString(),
				Name:         name,
				RedirectURIs: redirectURIs,
				GrantTypes:   grants,
				Scopes:       scopes,
				Confidential: confidential,
				Active:       true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			var plaintext string
			if confidential {
				if plaintext, err = tokens.GenerateOpaque(32); err != nil {
					return err
				}
				if c.SecretHash, err = secret.Hash(secret.Default, plaintext); err != nil {
					return err
				}
			}
			if err := st.CreateClient(ctx, c); err != nil {
				return err
			}

			out := map[string]any{"client_id": c.ClientID}
			if plaintext != "" {
				out["client_secret"] = plaintext
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&redirectURIs, "redirect-uri", nil, "allowed redirect URI (repeatable)")
	cmd.Flags().StringSliceVar(&grants, "grant", []string{"client_credentials"}, "allowed grant type (repeatable)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "allowed scope (repeatable)")
	cmd.Flags().BoolVar(&confidential, "confidential", true, "issue a client secret")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, closeStore, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			clients, err := st.ListClients(ctx)
			if err != nil {
				return err
			}
			for _, c := range clients {
				status := "active"
				if !c.Active {
					status = "inactive"
				}
				fmt.Printf("%s\t%s\t%s\t%v\n", c.ClientID, c.Name, status, c.GrantTypes)
			}
			return nil
		},
	}
}
