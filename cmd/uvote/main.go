package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uvote-platform/uvote/pkg/client"
	"github.com/uvote-platform/uvote/pkg/receipt"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "uvote",
	Short: "uVote election verification CLI",
	Long: `uvote is the command-line interface for the uVote platform.

Observers use it to verify election ballot chains and check receipts;
organisers use it to pull tallies and reconciliation reports.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.uvote")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.uvote/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "uVote server URL (default http://localhost:8080)")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── verify ───────────────────────────────────────────────────────────────────

// verifyRow holds the verdict for a single election's chain.
type verifyRow struct {
	electionID int64
	result     *client.VerifyResult
	err        error
}

var verifyFormat string

var verifyCmd = &cobra.Command{
	Use:   "verify <election-id> [election-id...]",
	Short: "Verify the ballot chain of one or more elections",
	Long: `Verify asks the server to walk each election's hash chain and report the
first broken link, if any. The command exits non-zero when any chain is
tampered, so it can gate scripts and monitoring:

  uvote verify 7
  uvote verify --format json 7 8 9`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
}

func runVerify(cmd *cobra.Command, args []string) error {
	// Validate all IDs up-front.
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid election id %q", arg)
		}
		ids[i] = id
	}

	c, err := client.New(serverURL)
	if err != nil {
		return err
	}

	ctx := context.Background()

	// Verify all elections concurrently.
	resultsCh := make(chan verifyRow, len(ids))
	for _, id := range ids {
		id := id
		go func() {
			r, err := c.VerifyChain(ctx, id)
			resultsCh <- verifyRow{electionID: id, result: r, err: err}
		}()
	}

	// Collect in input order.
	byID := make(map[int64]verifyRow, len(ids))
	for range ids {
		r := <-resultsCh
		byID[r.electionID] = r
	}
	ordered := make([]verifyRow, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}

	switch verifyFormat {
	case "json":
		if err := printVerifyJSON(ordered); err != nil {
			return err
		}
	default:
		if err := printVerifyText(ordered); err != nil {
			return err
		}
	}

	var broken int
	for _, r := range ordered {
		if r.err != nil || (r.result != nil && !r.result.Valid) {
			broken++
		}
	}
	if broken > 0 {
		return fmt.Errorf("%d of %d chain(s) failed verification", broken, len(ordered))
	}
	return nil
}

func printVerifyJSON(results []verifyRow) error {
	type jsonRow struct {
		ElectionID int64  `json:"election_id"`
		Valid      bool   `json:"valid"`
		Position   int64  `json:"position,omitempty"`
		Reason     string `json:"reason,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	rows := make([]jsonRow, len(results))
	for i, r := range results {
		if r.err != nil {
			rows[i] = jsonRow{ElectionID: r.electionID, Error: r.err.Error()}
		} else {
			rows[i] = jsonRow{
				ElectionID: r.electionID,
				Valid:      r.result.Valid,
				Position:   r.result.Position,
				Reason:     r.result.Reason,
			}
		}
	}
	// Single result: unwrap from array for convenience.
	var v any = rows
	if len(rows) == 1 {
		v = rows[0]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerifyText(results []verifyRow) error {
	if len(results) == 1 {
		r := results[0]
		if r.err != nil {
			return fmt.Errorf("verify election %d: %w", r.electionID, r.err)
		}
		if r.result.Valid {
			fmt.Printf("✓ Chain valid for election %d\n", r.electionID)
		} else {
			fmt.Printf("✗ Chain broken for election %d\n", r.electionID)
			fmt.Printf("  Position: %d\n", r.result.Position)
			fmt.Printf("  Reason:   %s\n", r.result.Reason)
		}
		return nil
	}

	// Multiple results: tabulated.
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ELECTION\tVALID\tPOSITION\tREASON\tERROR")
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(w, "%d\t\t\t\t%s\n", r.electionID, r.err.Error())
		} else if r.result.Valid {
			fmt.Fprintf(w, "%d\ttrue\t\t\t\n", r.electionID)
		} else {
			fmt.Fprintf(w, "%d\tfalse\t%d\t%s\t\n", r.electionID, r.result.Position, r.result.Reason)
		}
	}
	return w.Flush()
}

// ── receipt ──────────────────────────────────────────────────────────────────

var receiptFormat string

var receiptCmd = &cobra.Command{
	Use:   "receipt <uvr1_...>",
	Short: "Check whether a receipt's ballot is recorded in the ledger",
	Long: `Receipt confirms that the ballot behind a receipt handle is present in the
election's public chain. The handle reveals nothing about the ballot or the
voter; it only locates one chain entry:

  uvote receipt uvr1_3f6c...`,
	Args: cobra.ExactArgs(1),
	RunE: runReceipt,
}

func init() {
	receiptCmd.Flags().StringVar(&receiptFormat, "format", "text", "Output format: text or json")
}

func runReceipt(cmd *cobra.Command, args []string) error {
	handle := args[0]
	if _, err := receipt.Parse(handle); err != nil {
		return fmt.Errorf("invalid receipt handle: %w", err)
	}

	c, err := client.New(serverURL)
	if err != nil {
		return err
	}

	st, err := c.Receipt(context.Background(), handle)
	if err != nil {
		return err
	}

	if receiptFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else if st.Exists {
		fmt.Printf("✓ Ballot recorded\n\n")
		fmt.Printf("  Election: %d\n", st.ElectionID)
		fmt.Printf("  Position: %d\n", st.Position)
		fmt.Printf("  Cast at:  %s\n", st.CastAt.Format(time.RFC3339))
	} else {
		fmt.Println("✗ No ballot recorded for this receipt")
	}

	if !st.Exists {
		return fmt.Errorf("receipt is not in the ledger")
	}
	return nil
}

// ── organiser auth ───────────────────────────────────────────────────────────

var (
	adminToken    string
	adminEmail    string
	adminPassword string
)

// registerAuthFlags attaches the organiser credential flags shared by the
// results and reconcile commands.
func registerAuthFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminToken, "token", "", "Organiser session token (or set 'token' in the config file)")
	cmd.Flags().StringVar(&adminEmail, "email", "", "Organiser email, used with --password when no token is given")
	cmd.Flags().StringVar(&adminPassword, "password", "", "Organiser password")
}

// adminClient builds a client authenticated as an organiser, from a token
// when available, otherwise by logging in with email and password.
func adminClient(ctx context.Context) (*client.Client, error) {
	token := adminToken
	if token == "" {
		token = viper.GetString("token")
	}

	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	c, err := client.New(serverURL, opts...)
	if err != nil {
		return nil, err
	}

	if token == "" {
		if adminEmail == "" || adminPassword == "" {
			return nil, fmt.Errorf("organiser credentials required: pass --token, set 'token' in the config file, or pass --email and --password")
		}
		if _, err := c.AdminLogin(ctx, adminEmail, adminPassword); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return c, nil
}

// ── results ──────────────────────────────────────────────────────────────────

var resultsFormat string

var resultsCmd = &cobra.Command{
	Use:   "results <election-id>",
	Short: "Fetch the tally of a closed election",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsFormat, "format", "text", "Output format: text or json")
	registerAuthFlags(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid election id %q", args[0])
	}

	ctx := context.Background()
	c, err := adminClient(ctx)
	if err != nil {
		return err
	}

	tally, err := c.Results(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}

	if resultsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tally)
	}

	fmt.Printf("%s (election %d)\n", tally.Title, tally.ElectionID)
	fmt.Printf("Total ballots: %d\n\n", tally.TotalBallots)

	// Highest count first; ties alphabetical for stable output.
	choices := make([]string, 0, len(tally.Results))
	for choice := range tally.Results {
		choices = append(choices, choice)
	}
	sort.Slice(choices, func(i, j int) bool {
		ci, cj := tally.Results[choices[i]], tally.Results[choices[j]]
		if ci != cj {
			return ci > cj
		}
		return choices[i] < choices[j]
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHOICE\tBALLOTS")
	for _, choice := range choices {
		fmt.Fprintf(w, "%s\t%d\n", choice, tally.Results[choice])
	}
	return w.Flush()
}

// ── reconcile ────────────────────────────────────────────────────────────────

var reconcileFormat string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <election-id>",
	Short: "Cross-check an election's credential counters against its chain",
	Long: `Reconcile fetches the server's consistency report for an election: consumed
authorizations, issued and consumed credentials, and chain length must all
line up. The command exits non-zero when they do not.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileFormat, "format", "text", "Output format: text or json")
	registerAuthFlags(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid election id %q", args[0])
	}

	ctx := context.Background()
	c, err := adminClient(ctx)
	if err != nil {
		return err
	}

	report, err := c.Reconcile(ctx, id)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if reconcileFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Election:                %d\n", report.ElectionID)
		fmt.Printf("Authorizations consumed: %d\n", report.AuthorizationsConsumed)
		fmt.Printf("Credentials issued:      %d\n", report.CredentialsIssued)
		fmt.Printf("Credentials consumed:    %d\n", report.CredentialsConsumed)
		fmt.Printf("Ledger entries:          %d\n", report.LedgerEntries)
		if report.Consistent {
			fmt.Printf("\n✓ Counters and chain agree\n")
		} else {
			fmt.Printf("\n✗ Counters and chain disagree\n")
		}
	}

	if !report.Consistent {
		return fmt.Errorf("election %d failed reconciliation", id)
	}
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the uvote CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uvote %s (uVote platform)\n", version)
	},
}
