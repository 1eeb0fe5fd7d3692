package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(releaseCmd)
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Re-enable every saved network",
	Long:  "Turns autoconnect back on for all saved networks. Use it after uninstalling apguard or when the daemon died without releasing.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer closeLog()

		svc, err := setup(cmd.Context(), cfg, log, setupOptions{})
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.coord.Release(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "released %d network(s)\n", n)
		return err
	},
}
