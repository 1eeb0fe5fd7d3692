package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/prompt"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running daemon to evaluate now",
	Args:  cobra.NoArgs,
	RunE:  runTrigger,
}

type statusResponse struct {
	State           string                   `json:"state"`
	PollInterval    string                   `json:"poll_interval"`
	ReleaseOnExit   bool                     `json:"release_on_exit"`
	CycleCount      int64                    `json:"cycle_count"`
	CycleState      string                   `json:"cycle_state"`
	LastCycle       *coordinator.CycleResult `json:"last_cycle,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
	KnownNetworks   int                      `json:"known_networks"`
	PendingDecision bool                     `json:"pending_decision"`
	Pending         *prompt.Pending          `json:"pending,omitempty"`
	Keepalive       bool                     `json:"keepalive_enabled"`
}

type triggerResponse struct {
	Triggered bool                     `json:"triggered"`
	Cycle     *coordinator.CycleResult `json:"cycle,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	var st statusResponse
	if err := c.call(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), st)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "state:          %s (cycle %s)\n", st.State, dash(st.CycleState))
	fmt.Fprintf(w, "poll interval:  %s\n", st.PollInterval)
	fmt.Fprintf(w, "cycles run:     %d\n", st.CycleCount)
	fmt.Fprintf(w, "known networks: %d\n", st.KnownNetworks)
	if st.LastCycle != nil {
		fmt.Fprintf(w, "last cycle:     %s %s at %s\n", st.LastCycle.ID, st.LastCycle.Outcome,
			st.LastCycle.Started.Local().Format("15:04:05"))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "last error:     %s\n", st.LastError)
	}
	if st.Pending != nil {
		fmt.Fprintf(w, "pending:        %s via %s\n", st.Pending.Network, st.Pending.AccessPoint)
	}
	return nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	var resp triggerResponse
	err = c.call(cmd.Context(), http.MethodPost, "/trigger", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusConflict:
			fmt.Fprintln(cmd.OutOrStdout(), "A cycle is already running.")
			return nil
		case http.StatusTooManyRequests:
			fmt.Fprintln(cmd.OutOrStdout(), "A cycle just ran; try again in a moment.")
			return nil
		}
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	if resp.Cycle != nil {
		printCycle(cmd.OutOrStdout(), resp.Cycle)
	}
	return nil
}
