package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/prompt"
)

var (
	pendingTrust bool
	pendingBlock bool
	forgetBlock  bool
)

func init() {
	rootCmd.AddCommand(allowCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(pendingCmd)

	forgetCmd.Flags().BoolVar(&forgetBlock, "blocked", false, "remove from the blocked list instead of the trusted list")
	pendingCmd.Flags().BoolVar(&pendingTrust, "trust", false, "trust the pending access point")
	pendingCmd.Flags().BoolVar(&pendingBlock, "block", false, "block the pending access point")
	pendingCmd.MarkFlagsMutuallyExclusive("trust", "block")
}

var allowCmd = &cobra.Command{
	Use:   "allow <network> <access-point>",
	Short: "Trust an access point for a network",
	Long:  "Records the access point as trusted. Sibling access points of the same network that are in range are trusted too when prompt.trust_visible_siblings is set.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, core.NetworkName(args[0]), core.AccessPointID(args[1]), true)
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <network> <access-point>",
	Short: "Block an access point for a network",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, core.NetworkName(args[0]), core.AccessPointID(args[1]), false)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <network> <access-point>",
	Short: "Remove an access point from the trusted (or --blocked) list",
	Args:  cobra.ExactArgs(2),
	RunE:  runForget,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show or answer the pending trust decision",
	Long:  "Without flags, prints the access point waiting for a decision. With --trust or --block, answers it.",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

type decisionRequest struct {
	Network     core.NetworkName   `json:"network,omitempty"`
	AccessPoint core.AccessPointID `json:"access_point,omitempty"`
	Trust       bool               `json:"trust"`
}

type decisionResponse struct {
	Network     core.NetworkName   `json:"network"`
	AccessPoint core.AccessPointID `json:"access_point"`
	Trust       bool               `json:"trust"`
}

type pendingResponse struct {
	Pending  bool            `json:"pending"`
	Decision *prompt.Pending `json:"decision,omitempty"`
}

func decide(cmd *cobra.Command, name core.NetworkName, ap core.AccessPointID, trust bool) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}
	return postDecision(cmd, c, decisionRequest{Network: name, AccessPoint: ap, Trust: trust})
}

func postDecision(cmd *cobra.Command, c *apiClient, req decisionRequest) error {
	var resp decisionResponse
	if err := c.call(cmd.Context(), http.MethodPost, "/api/decisions", req, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	verb := "Blocked"
	if resp.Trust {
		verb = "Trusted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s.\n", verb, resp.AccessPoint, resp.Network)
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	list := "allowed"
	if forgetBlock {
		list = "blocked"
	}
	path := fmt.Sprintf("/api/networks/%s/%s/%s", url.PathEscape(args[0]), list, url.PathEscape(args[1]))
	if err := c.call(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the %s list of %s.\n", args[1], list, args[0])
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	c, err := clientFromConfig()
	if err != nil {
		return err
	}

	if pendingTrust || pendingBlock {
		err := postDecision(cmd, c, decisionRequest{Trust: pendingTrust})
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return errors.New("no decision is pending")
		}
		return err
	}

	var resp pendingResponse
	if err := c.call(cmd.Context(), http.MethodGet, "/api/pending", nil, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	w := cmd.OutOrStdout()
	if !resp.Pending || resp.Decision == nil {
		fmt.Fprintln(w, "No pending decision.")
		return nil
	}
	p := resp.Decision
	fmt.Fprintf(w, "%s is broadcast by an access point you have not seen before: %s\n", p.Network, p.AccessPoint)
	fmt.Fprintf(w, "waiting since %s\n", p.Since.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, "answer with: apguard pending --trust   or   apguard pending --block")
	return nil
}
