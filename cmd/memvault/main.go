package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/memvault/internal/config"
	"github.com/stellarlinkco/memvault/internal/metrics"
	"github.com/stellarlinkco/memvault/internal/relevance"
	"github.com/stellarlinkco/memvault/internal/store"
	"github.com/stellarlinkco/memvault/internal/token"
)

var rootCmd = &cobra.Command{
	Use:   "memvault",
	Short: "memvault - persistent working memory for AI agents",
}

var appendCmd = &cobra.Command{
	Use:   "append [content...]",
	Short: "Append one immutable entry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAppend,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query entries by category, newest first",
	RunE:  runQuery,
}

var searchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Case-insensitive substring search over entry content",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var selectCmd = &cobra.Command{
	Use:   "select [query terms...]",
	Short: "Select a token-budget-bounded context payload",
	Args:  cobra.MinimumNArgs(0),
	RunE:  runSelect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status and backend info",
	RunE:  runStatus,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregated operation metrics",
	RunE:  runMetrics,
}

var (
	categoryFlag  string
	tagFlag       string
	timestampFlag string
	limitFlag     int
	fromFlag      string
	toFlag        string
	budgetFlag    int
	modelFlag     string
	windowFlag    int
)

func init() {
	appendCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "entry category (brief|context|pattern|decision|progress)")
	appendCmd.Flags().StringVarP(&tagFlag, "tag", "t", "", "optional [CATEGORY:YYYY-MM-DD] tag")
	appendCmd.Flags().StringVar(&timestampFlag, "timestamp", "", "entry timestamp (RFC3339, defaults to now)")
	_ = appendCmd.MarkFlagRequired("category")

	queryCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "entry category")
	queryCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "max entries")
	queryCmd.Flags().StringVar(&fromFlag, "from", "", "range start (RFC3339)")
	queryCmd.Flags().StringVar(&toFlag, "to", "", "range end (RFC3339)")
	_ = queryCmd.MarkFlagRequired("category")

	searchCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "max entries")

	selectCmd.Flags().IntVar(&budgetFlag, "budget", 0, "token budget (defaults from config)")
	selectCmd.Flags().StringVar(&modelFlag, "model", "", "model id for token counting")
	selectCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "restrict candidate pool to one category")

	metricsCmd.Flags().IntVar(&windowFlag, "window", 7, "aggregation window in days")

	rootCmd.AddCommand(appendCmd, queryCmd, searchCmd, selectCmd, statusCmd, metricsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openRuntime wires the store, recorder and counter for one command
// invocation. The caller must invoke the returned cleanup.
func openRuntime() (*config.Config, *store.Store, *metrics.Recorder, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	st, err := store.Open(cfg.DataPath())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rec := metrics.NewRecorder(st, metrics.Options{
		SamplingRate:  cfg.Metrics.SamplingRate,
		RetentionDays: cfg.Metrics.RetentionDays,
		Debug:         cfg.Debug,
	})
	cleanup := func() {
		rec.Close()
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close store: %v\n", err)
		}
	}
	return cfg, st, rec, cleanup, nil
}

func runAppend(cmd *cobra.Command, args []string) error {
	_, st, rec, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := store.ParseCategory(categoryFlag)
	if err != nil {
		return err
	}
	ts := timestampFlag
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}

	var id int64
	err = rec.Observe("append", func() error {
		var err error
		id, err = st.Append(store.Entry{
			Category:  cat,
			Timestamp: ts,
			Tag:       tagFlag,
			Content:   strings.Join(args, " "),
		})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("appended entry %d\n", id)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	_, st, rec, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := store.ParseCategory(categoryFlag)
	if err != nil {
		return err
	}

	var entries []store.Entry
	if fromFlag != "" || toFlag != "" {
		start, end, err := parseRange(fromFlag, toFlag)
		if err != nil {
			return err
		}
		err = rec.Observe("query_by_date_range", func() error {
			var qerr error
			entries, qerr = st.QueryByDateRange(cat, start, end)
			return qerr
		})
		if err != nil {
			return err
		}
	} else {
		err = rec.Observe("query_by_category", func() error {
			var qerr error
			entries, qerr = st.QueryByCategory(cat, limitFlag)
			return qerr
		})
		if err != nil {
			return err
		}
	}
	printEntries(entries)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	_, st, rec, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	var entries []store.Entry
	err = rec.Observe("full_text_search", func() error {
		var qerr error
		entries, qerr = st.Search(args[0], limitFlag)
		return qerr
	})
	if err != nil {
		return err
	}
	printEntries(entries)
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	cfg, st, rec, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	budget := budgetFlag
	if budget <= 0 {
		budget = cfg.Selection.TokenBudget
	}
	model := modelFlag
	if model == "" {
		model = cfg.Selection.Model
	}

	pool, err := gatherPool(st)
	if err != nil {
		return err
	}

	counter := token.NewCounter(cfg.Tokens.CacheCapacity, time.Duration(cfg.Tokens.CacheTTLMinutes)*time.Minute)
	var sel relevance.Selection
	err = rec.Observe("select_for_budget", func() error {
		sel = relevance.SelectForBudget(pool, args, budget, model, counter, time.Now().UTC())
		return nil
	})
	if err != nil {
		return err
	}
	rec.RecordTokenUsage(model, "select_for_budget", sel.TotalTokens, 0, budget)

	fmt.Printf("considered=%d selected=%d tokens=%d/%d coverage=%.2f\n",
		sel.ConsideredCount, sel.SelectedCount, sel.TotalTokens, budget, sel.CoverageRatio)
	printEntries(sel.Selected)
	return nil
}

// gatherPool collects the candidate pool, optionally restricted to one
// category.
func gatherPool(st *store.Store) ([]store.Entry, error) {
	const perCategory = 200

	if categoryFlag != "" {
		cat, err := store.ParseCategory(categoryFlag)
		if err != nil {
			return nil, err
		}
		return st.QueryByCategory(cat, perCategory)
	}

	pool := make([]store.Entry, 0)
	for _, cat := range store.Categories {
		entries, err := st.QueryByCategory(cat, perCategory)
		if err != nil {
			return nil, err
		}
		pool = append(pool, entries...)
	}
	return pool, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, st, _, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := st.BackendInfo()
	if err != nil {
		return err
	}
	stats, err := st.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Data file: %s\n", cfg.DataPath())
	fmt.Printf("Backend: %s (%s %s)\n", info.Kind, info.Driver, info.Version)
	fmt.Printf("Schema: v%d\n", stats.SchemaVersion)
	fmt.Printf("Entries: %d (%d chars)\n", stats.TotalEntries, stats.TotalChars)
	for _, cat := range store.Categories {
		if n := stats.ByCategory[cat]; n > 0 {
			fmt.Printf("  %-9s %d\n", cat, n)
		}
	}
	if stats.NewestEntry != "" {
		fmt.Printf("Range: %s .. %s\n", stats.OldestEntry, stats.NewestEntry)
	}
	return nil
}

func runMetrics(cmd *cobra.Command, args []string) error {
	_, _, rec, cleanup, err := openRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	tools, err := rec.GetToolMetrics(windowFlag)
	if err != nil {
		return err
	}
	dash, err := rec.GetDashboardMetrics()
	if err != nil {
		return err
	}

	fmt.Printf("Operations (last %d days):\n", windowFlag)
	if len(tools) == 0 {
		fmt.Println("  no samples recorded")
	}
	for op, st := range tools {
		fmt.Printf("  %-24s count=%d avg=%.1fms\n", op, st.Count, st.AvgMs)
	}
	fmt.Printf("Tokens (last %d days): total=%d in=%d out=%d rows=%d\n",
		dash.WindowDays, dash.TotalTokens, dash.TotalInputTokens, dash.TotalOutputTokens, dash.TokenRows)
	for status, n := range dash.ByStatus {
		fmt.Printf("  %-9s %d\n", status, n)
	}
	return nil
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Now().UTC()
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return start, end, fmt.Errorf("parse --from: %w", err)
		}
		start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return start, end, fmt.Errorf("parse --to: %w", err)
		}
		end = t
	}
	return start, end, nil
}

func printEntries(entries []store.Entry) {
	for _, e := range entries {
		tag := e.Tag
		if tag == "" {
			tag = "-"
		}
		content := e.Content
		if len(content) > 120 {
			content = content[:117] + "..."
		}
		fmt.Printf("%6d  %-9s %s  %-24s %s\n", e.ID, e.Category, e.Timestamp, tag, content)
	}
}
