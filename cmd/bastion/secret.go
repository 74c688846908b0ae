package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionlabs/bastion/internal/security/secret"
)

// secretCmd hashes a plaintext client secret for manual inserts or config
// fixtures.
func secretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret-hash <plaintext>",
		Short: "Print the argon2id hash of a client secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phc, err := secret.Hash(secret.Default, args[0])
			if err != nil {
				return err
			}
			fmt.Println(phc)
			return nil
		},
	}
}
