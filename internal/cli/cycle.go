package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

var cycleFixture string

func init() {
	cycleCmd.Flags().StringVar(&cycleFixture, "fixture", "", "use the static Wi-Fi driver with this fixture file")
	rootCmd.AddCommand(cycleCmd)
}

var cycleCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"cycle"},
	Short:   "Run one scan cycle locally and print the verdicts",
	Long: "Evaluates every saved network once, applies the verdicts and exits. " +
		"Do not run it next to a daemon; the daemon owns the radio.",
	Args: cobra.NoArgs,
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

		svc, err := setup(cmd.Context(), cfg, log, setupOptions{fixture: cycleFixture})
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.coord.OnScanEvent(cmd.Context())
		if res != nil {
			if jsonOutput {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			} else {
				printCycle(cmd.OutOrStdout(), res)
			}
		}
		if err != nil {
			log.Error("scan cycle failed", logger.F("error", err.Error()))
			if errors.Is(err, coordinator.ErrCycleAborted) {
				return fmt.Errorf("cycle aborted: %w", err)
			}
			return err
		}
		if p, ok := svc.board.Current(); ok && !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "\npending decision: %s via %s\n", p.Network, p.AccessPoint)
			fmt.Fprintf(cmd.OutOrStdout(), "answer with: apguard allow %q %s  (or block)\n", p.Network, p.AccessPoint)
		}
		return nil
	},
}

func printCycle(w io.Writer, res *coordinator.CycleResult) {
	fmt.Fprintf(w, "cycle %s: %s in %s\n", res.ID, res.Outcome, res.Duration)
	fmt.Fprintf(w, "evaluated: %d  enabled: %d  disabled: %d  prompted: %d  errors: %d\n\n",
		res.Evaluated, res.Enabled, res.Disabled, res.Prompted, res.Errors)
	if len(res.Verdicts) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NETWORK\tSAFETY\tREASON\tACCESS POINT\tACTION")
	for _, v := range res.Verdicts {
		action := v.Action
		if v.Error != "" {
			action += " (" + v.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Safety, v.Reason, dash(string(v.AP)), action)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
