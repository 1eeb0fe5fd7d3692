package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/auth"
)

var keygenRole string

func init() {
	keygenCmd.Flags().StringVar(&keygenRole, "role", "", "append a keys-file line for this role (viewer, operator, admin)")
	rootCmd.AddCommand(keygenCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a daemon API key",
	Long:  "Prints a new random API key. With --role, also prints the line to add to auth.keys_file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenRole != "" {
			r, err := auth.ParseRole(keygenRole)
			if err != nil || r == auth.RoleNone {
				return fmt.Errorf("invalid role %q", keygenRole)
			}
		}

		key, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}

		if jsonOutput {
			out := map[string]string{"key": key, "sha256": auth.HashKey(key)}
			if keygenRole != "" {
				out["role"] = keygenRole
			}
			return printJSON(cmd.OutOrStdout(), out)
		}

		fmt.Fprintln(cmd.OutOrStdout(), key)
		if keygenRole != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\nkeys file line:\n%s:%s\n", key, keygenRole)
		}
		return nil
	},
}
