package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repclub/gymgate/internal/domain/auth"
)

var hashArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

The default output format is "sha256:<hex>". With --argon2id the output is
an Argon2id PHC string. Either can be used directly in the
auth.api_keys.key_hash field.

Example:
  gymgate hash-key "front-desk-key"
  # Output: sha256:7d5e8c...

  gymgate hash-key --argon2id "front-desk-key"
  # Output: $argon2id$v=19$m=47104,t=1,p=1$...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  gymgate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashArgon2id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func hashAPIKey(key string, argon bool) (string, error) {
	if argon {
		hash, err := auth.HashKeyArgon2id(key)
		if err != nil {
			return "", fmt.Errorf("hash key: %w", err)
		}
		return hash, nil
	}
	return "sha256:" + auth.HashKey(key), nil
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashArgon2id, "argon2id", false, "output an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
