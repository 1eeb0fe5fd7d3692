package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
)

var clearAll bool

func init() {
	rootCmd.AddCommand(networksCmd)
	networksCmd.AddCommand(networksListCmd)
	networksCmd.AddCommand(networksShowCmd)
	networksCmd.AddCommand(networksClearCmd)
	networksClearCmd.Flags().BoolVar(&clearAll, "all", false, "clear the whole ledger")
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "Inspect and edit the trust ledger",
	Long:  "Commands for the networks the running daemon knows, with the access points trusted or blocked for each.",
	RunE:  runNetworksList,
}

var networksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known networks with availability and current verdict",
	Args:  cobra.NoArgs,
	RunE:  runNetworksList,
}

var networksShowCmd = &cobra.Command{
	Use:   "show <network>",
	Short: "Show the trusted and blocked access points of one network",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetworksShow,
}

var networksClearCmd = &cobra.Command{
	Use:   "clear [network]",
	Short: "Forget every access point of a network, or of all networks with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runNetworksClear,
}

type networksResponse struct {
	Networks []coordinator.NetworkStatus `json:"networks"`
	Count    int                         `json:"count"`
}

type networkResponse struct {
	Network core.NetworkName     `json:"network"`
	Allowed []core.AccessPointID `json:"allowed"`
	Blocked []core.AccessPointID `json:"blocked"`
}

func runNetworksList(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	var resp networksResponse
	if err := c.call(cmd.Context(), http.MethodGet, "/api/networks", nil, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	w := cmd.OutOrStdout()
	if resp.Count == 0 {
		fmt.Fprintln(w, "No known networks.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NETWORK\tSAVED\tIN RANGE\tSIGNAL\tVERDICT\tTRUSTED APS")
	for _, n := range resp.Networks {
		trusted := 0
		for _, ap := range n.AccessPoints {
			if ap.Trusted {
				trusted++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			n.Network, yesNo(n.Configured), yesNo(n.Available), signalBars(n.SignalLevel),
			dash(n.Safety), trusted, len(n.AccessPoints))
	}
	return tw.Flush()
}

func runNetworksShow(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	var resp networkResponse
	if err := c.call(cmd.Context(), http.MethodGet, "/api/networks/"+url.PathEscape(args[0]), nil, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s\n", resp.Network)
	fmt.Fprintf(w, "  trusted: %s\n", joinAPs(resp.Allowed))
	fmt.Fprintf(w, "  blocked: %s\n", joinAPs(resp.Blocked))
	return nil
}

func runNetworksClear(cmd *cobra.Command, args []string) error {
	if clearAll == (len(args) == 1) {
		return errors.New("give either a network name or --all")
	}

	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	path := "/api/networks"
	if !clearAll {
		path += "/" + url.PathEscape(args[0])
	}
	if err := c.call(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	if clearAll {
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger cleared.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s.\n", args[0])
	}
	return nil
}

// clientFromConfig loads the config for the daemon address and API key.
func clientFromConfig() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func signalBars(level int) string {
	if level < 0 {
		return "-"
	}
	return strings.Repeat("▮", level) + strings.Repeat("▯", 4-level)
}

func joinAPs(aps []core.AccessPointID) string {
	if len(aps) == 0 {
		return "(none)"
	}
	s := make([]string, len(aps))
	for i, ap := range aps {
		s[i] = string(ap)
	}
	return strings.Join(s, ", ")
}
