package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/auditor"
)

var (
	auditSince     string
	auditAction    string
	auditNetwork   string
	auditCycle     string
	auditLimit     int
	auditOlderThan string
	auditOutput    string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.AddCommand(auditPruneCmd)
	auditCmd.AddCommand(auditExportCmd)

	qf := auditQueryCmd.Flags()
	qf.StringVar(&auditSince, "since", "24h", "show records newer than this (RFC3339, YYYY-MM-DD, or a duration like 7d)")
	qf.StringVar(&auditAction, "action", "", "filter by action: verdict, cycle, decision, ledger")
	qf.StringVar(&auditNetwork, "network", "", "filter by network name")
	qf.StringVar(&auditCycle, "cycle", "", "filter by cycle id")
	qf.IntVarP(&auditLimit, "limit", "n", 50, "maximum records to show")

	auditPruneCmd.Flags().StringVar(&auditOlderThan, "older-than", "30d", "delete records older than this duration")
	auditExportCmd.Flags().StringVar(&auditSince, "since", "", "export records newer than this (default: all)")
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "-", "output file, - for stdout")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit database operations",
	Long:  "Reads the SQLite audit database named by audit.sqlite_path directly; the daemon does not need to run.",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List recent audit records",
	Args:  cobra.NoArgs,
	RunE:  runAuditQuery,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every record's checksum",
	Long:  "Recomputes the checksum of every audit record. Exits non-zero if any record was altered.",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit database",
	Args:  cobra.NoArgs,
	RunE:  runAuditStats,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old audit records",
	Args:  cobra.NoArgs,
	RunE:  runAuditPrune,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as JSON",
	Args:  cobra.NoArgs,
	RunE:  runAuditExport,
}

func openAuditDB() (*auditor.SQLiteAuditor, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Audit.SQLitePath == "" {
		return nil, errors.New("audit.sqlite_path is not configured")
	}
	if _, err := os.Stat(cfg.Audit.SQLitePath); err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	return auditor.NewSQLite(auditor.SQLiteConfig{Path: cfg.Audit.SQLitePath})
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	if auditLimit <= 0 {
		return errors.New("--limit must be positive")
	}
	filter := auditor.QueryFilter{
		Action:  auditAction,
		Network: auditNetwork,
		CycleID: auditCycle,
		Limit:   auditLimit,
	}
	if auditSince != "" {
		t, err := parseSince(auditSince, time.Now())
		if err != nil {
			return err
		}
		filter.Since = t
	}

	a, err := openAuditDB()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Query(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("audit query: %w", err)
	}
	if jsonOutput {
		if records == nil {
			records = []auditor.AuditRecord{}
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	printRecords(cmd.OutOrStdout(), records)
	return nil
}

func printRecords(w io.Writer, records []auditor.AuditRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tACTION\tNETWORK\tACCESS POINT\tREASON")
	for _, r := range records {
		reason := r.Reason
		if r.Error != "" {
			reason = strings.TrimSpace(reason + " " + r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Level, r.Action,
			dash(r.Network), dash(r.AccessPoint), dash(reason))
	}
	tw.Flush()
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	a, err := openAuditDB()
	if err != nil {
		return err
	}
	defer a.Close()

	bad, err := a.VerifyIntegrity(cmd.Context())
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if len(bad) > 0 {
		ids := make([]string, len(bad))
		for i, id := range bad {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return fmt.Errorf("%d tampered record(s): %s", len(bad), strings.Join(ids, ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK: all records verified")
	return nil
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	a, err := openAuditDB()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), st)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "records:         %d\n", st.TotalRecords)
	if st.TotalRecords > 0 {
		fmt.Fprintf(w, "span:            %s .. %s\n",
			st.FirstRecord.Local().Format(time.RFC3339), st.LastRecord.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "cycles:          %d\n", st.Cycles)
	fmt.Fprintf(w, "verdicts:        %d\n", st.Verdicts)
	fmt.Fprintf(w, "blocked AP seen: %d\n", st.BlockedAPSeen)
	fmt.Fprintf(w, "decisions:       %d\n", st.Decisions)
	fmt.Fprintf(w, "errors:          %d\n", st.Errors)
	return nil
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	age, err := parseLookback(auditOlderThan)
	if err != nil {
		return fmt.Errorf("--older-than: %w", err)
	}

	a, err := openAuditDB()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Prune(cmd.Context(), age)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d record(s) older than %s.\n", n, auditOlderThan)
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	var since time.Time
	if auditSince != "" {
		t, err := parseSince(auditSince, time.Now())
		if err != nil {
			return err
		}
		since = t
	}

	a, err := openAuditDB()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.Export(cmd.Context(), since)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if auditOutput == "" || auditOutput == "-" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	return os.WriteFile(auditOutput, append(data, '\n'), 0o600)
}

// parseSince accepts RFC3339, a plain date, or a look-back duration from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	d, err := parseLookback(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339, YYYY-MM-DD or duration", s)
	}
	return now.Add(-d), nil
}

// parseLookback is time.ParseDuration plus a "d" day suffix. Zero and
// negative durations are rejected.
func parseLookback(s string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}
