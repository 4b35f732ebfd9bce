package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hookledger/internal/store"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Database string
	Table    string
	Key      string
	TxnID    string
	Limit    int
}

// LedgerResult holds the listed ledger entries.
type LedgerResult struct {
	Entries []store.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List derived records",
		Long: `List the committed derived records in a store, in ledger order.

Records can be narrowed by source table, record key or transaction id.

Examples:
  hookledger ledger --db ./ledger.db
  hookledger ledger --db ./ledger.db --table withdrawals --key w-1
  hookledger ledger --db ./ledger.db --txn 4f1c... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Table, "table", "", "filter by source table")
	cmd.Flags().StringVar(&opts.Key, "key", "", "filter by record key")
	cmd.Flags().StringVar(&opts.TxnID, "txn", "", "filter by transaction id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 for all)")

	return cmd
}

func runLedger(opts *LedgerOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database), err)
	}

	st, err := store.Open(opts.Database, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.ListDerived(cmd.Context(), store.ListFilter{
		SourceTable: opts.Table,
		Key:         opts.Key,
		TxnID:       opts.TxnID,
		Limit:       opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list derived records", err)
	}
	if entries == nil {
		entries = []store.Entry{}
	}

	formatter := newFormatter(cmd, opts.RootOptions)
	if formatter.JSON() {
		return formatter.Success(LedgerResult{Entries: entries, Count: len(entries)})
	}

	if len(entries) == 0 {
		formatter.Printf("No derived records found.\n")
		return nil
	}
	for _, e := range entries {
		formatter.Printf("%s\n", formatEntry(e, opts.Verbose))
	}
	formatter.Printf("\n%d record(s)\n", len(entries))
	return nil
}

// formatEntry renders one entry on a single line. Verbose adds the digest,
// payload and passthrough columns.
func formatEntry(e store.Entry, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s key=%s type=%s status=%s",
		e.Seq, e.CreatedAt.UTC().Format(time.RFC3339), e.SourceTable, e.Key, e.RequestType, e.Status)
	if e.Platform != "" {
		fmt.Fprintf(&b, " platform=%s", e.Platform)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "system"
	}
	fmt.Fprintf(&b, " actor=%s txn=%s", actor, e.TxnID)
	if verbose {
		fmt.Fprintf(&b, " digest=%s", e.Digest)
		if e.Payload != "" {
			fmt.Fprintf(&b, " payload=%s", e.Payload)
		}
		for _, k := range slices.Sorted(maps.Keys(e.Passthrough)) {
			fmt.Fprintf(&b, " %s=%s", k, e.Passthrough[k])
		}
	}
	return b.String()
}
