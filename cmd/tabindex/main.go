// Package main provides the tabindex admin CLI.
//
// tabindex opens an index directory the same way an embedding process
// would and runs one maintenance or inspection command against it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ocentra/TabAgentServer-sub005/pkg/algo"
	"github.com/ocentra/TabAgentServer-sub005/pkg/config"
	"github.com/ocentra/TabAgentServer-sub005/pkg/indexing"
	"github.com/ocentra/TabAgentServer-sub005/pkg/logging"
	"github.com/ocentra/TabAgentServer-sub005/pkg/zerocopy"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tabindex",
		Short: "tabindex - embedded multi-model index administration",
		Long: `tabindex inspects and maintains a tabindex data directory.

Indexes:
  • Structural: property/value → node ids
  • Graph: bidirectional adjacency lists
  • Vector: HNSW approximate nearest neighbors

Configuration is read from --config (YAML) or TABINDEX_* environment
variables; flags override both.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("vectors", "", "Vector snapshot path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tabindex v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE:  withManager(runStats),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check that every edge is recorded in both directions",
		RunE:  withManager(runVerify),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Replay interrupted edge writes",
		RunE:  withManager(runRecover),
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "query <property> <value>",
		Short: "List node ids indexed under a property value",
		Args:  cobra.ExactArgs(2),
		RunE:  withManager(runQuery),
	})

	neighborsCmd := &cobra.Command{
		Use:   "neighbors <entity>",
		Short: "List the edges of an entity",
		Args:  cobra.ExactArgs(1),
		RunE:  withManager(runNeighbors),
	}
	neighborsCmd.Flags().String("direction", "both", "Edge direction: out, in or both")
	rootCmd.AddCommand(neighborsCmd)

	searchCmd := &cobra.Command{
		Use:   "search <v1,v2,...>",
		Short: "Find the nearest embeddings to a vector",
		Args:  cobra.ExactArgs(1),
		RunE:  withManager(runSearch),
	}
	searchCmd.Flags().IntP("k", "k", 10, "Number of results")
	searchCmd.Flags().StringArray("where", nil, "Only nodes with property=value (repeatable, all must match)")
	searchCmd.Flags().StringArray("any", nil, "Only nodes matching at least one property=value (repeatable)")
	searchCmd.Flags().StringArray("not", nil, "Exclude nodes with property=value (repeatable)")
	rootCmd.AddCommand(searchCmd)

	rankCmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank entities by PageRank",
		RunE:  withManager(runRank),
	}
	rankCmd.Flags().Int("top", 10, "Number of entities to show")
	rankCmd.Flags().Int("iterations", 20, "PageRank iterations")
	rootCmd.AddCommand(rankCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Drop removed vectors and rewrite the vector snapshot",
		RunE:  withManager(runCompact),
	})

	return rootCmd
}

// loadConfig builds the config from --config or the environment and
// applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.InMemory = false
	}
	if v, _ := cmd.Flags().GetString("vectors"); v != "" {
		cfg.Vector.PersistPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
	// Admin commands run in safe mode.
	cfg.HotMode.Enabled = false
	return cfg, cfg.Validate()
}

type managerFunc func(ctx context.Context, cmd *cobra.Command, args []string, m *indexing.Manager) error

// withManager opens the manager for the duration of one command.
func withManager(fn managerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger, closer, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer closer.Close()
		cfg.Runtime.ApplyRuntime()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, err := indexing.Open(ctx, cfg, indexing.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		runErr := fn(ctx, cmd, args, m)
		if err := m.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

func runStats(_ context.Context, cmd *cobra.Command, _ []string, m *indexing.Manager) error {
	s, err := m.Stats()
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), s)
	return nil
}

func printStats(out io.Writer, s indexing.Stats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "state\t%s\n", s.State)
	fmt.Fprintf(w, "structural values\t%d\n", s.StructuralValues)
	fmt.Fprintf(w, "pending intents\t%d\n", s.PendingIntents)
	fmt.Fprintf(w, "store size\t%s (lsm %s, vlog %s)\n",
		config.FormatMemorySize(s.Store.LSMBytes+s.Store.VLogBytes),
		config.FormatMemorySize(s.Store.LSMBytes),
		config.FormatMemorySize(s.Store.VLogBytes))
	fmt.Fprintf(w, "vectors\t%d live, %d tombstoned, %d/%s\n",
		s.Vector.Live, s.Vector.Tombstones, s.Vector.Dimensions, s.Vector.Metric)
	fmt.Fprintf(w, "hnsw\tmax level %d, generation %d, kernel %s\n",
		s.Vector.MaxLevel, s.Vector.Generation, s.Vector.Kernel)
	if s.NeedsRebuild {
		fmt.Fprintf(w, "vector snapshot\tunreadable, rebuild required\n")
	}
	if s.Cache != nil {
		fmt.Fprintf(w, "search cache\t%d/%d entries, %.1f%% hits\n", s.Cache.Size, s.Cache.MaxSize, s.Cache.HitRate)
	}
}

func runVerify(ctx context.Context, cmd *cobra.Command, _ []string, m *indexing.Manager) error {
	report, err := m.Verify(ctx)
	if report != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "checked %d entities, %d edges\n", report.Entities, report.Edges)
		for _, v := range report.Violations {
			fmt.Fprintf(out, "  %s\n", v)
		}
		if report.Total > len(report.Violations) {
			fmt.Fprintf(out, "  ... %d more\n", report.Total-len(report.Violations))
		}
	}
	return err
}

func runRecover(_ context.Context, cmd *cobra.Command, _ []string, m *indexing.Manager) error {
	n, err := m.Recover()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d pending edge writes\n", n)
	return nil
}

func runQuery(_ context.Context, cmd *cobra.Command, args []string, m *indexing.Manager) error {
	ids, err := m.NodesByProperty(args[0], args[1])
	if err != nil {
		return err
	}
	defer ids.Close()
	out := cmd.OutOrStdout()
	for it := ids.Iter(); it.Next(); {
		fmt.Fprintln(out, it.ID())
	}
	return nil
}

func runNeighbors(_ context.Context, cmd *cobra.Command, args []string, m *indexing.Manager) error {
	dir, _ := cmd.Flags().GetString("direction")
	showOut, showIn, err := parseDirection(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	list := func(open func(string) (*zerocopy.Pairs, error), arrow string) error {
		pairs, err := open(args[0])
		if err != nil {
			return err
		}
		defer pairs.Close()
		for it := pairs.Iter(); it.Next(); {
			fmt.Fprintf(out, "%s %s [%s]\n", arrow, it.Nbr(), it.Rel())
		}
		return nil
	}
	if showOut {
		if err := list(m.Outgoing, "->"); err != nil {
			return err
		}
	}
	if showIn {
		return list(m.Incoming, "<-")
	}
	return nil
}

func parseDirection(s string) (out, in bool, err error) {
	switch strings.ToLower(s) {
	case "out":
		return true, false, nil
	case "in":
		return false, true, nil
	case "both", "":
		return true, true, nil
	}
	return false, false, fmt.Errorf("unknown direction %q (want out, in or both)", s)
}

func runSearch(ctx context.Context, cmd *cobra.Command, args []string, m *indexing.Manager) error {
	query, err := parseVector(args[0])
	if err != nil {
		return err
	}
	k, _ := cmd.Flags().GetInt("k")
	var f indexing.Filter
	for _, fl := range []struct {
		name string
		dst  *[]indexing.Pair
	}{{"where", &f.Must}, {"any", &f.Should}, {"not", &f.MustNot}} {
		raw, _ := cmd.Flags().GetStringArray(fl.name)
		if *fl.dst, err = parsePairs(raw); err != nil {
			return fmt.Errorf("--%s: %w", fl.name, err)
		}
	}
	results, err := m.SearchVectorsFilter(ctx, query, k, f)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.6f\n", r.ID, r.Distance)
	}
	return nil
}

func parsePairs(raw []string) ([]indexing.Pair, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	pairs := make([]indexing.Pair, 0, len(raw))
	for _, r := range raw {
		property, value, ok := strings.Cut(r, "=")
		if !ok || property == "" {
			return nil, fmt.Errorf("want property=value, got %q", r)
		}
		pairs = append(pairs, indexing.Pair{Property: property, Value: value})
	}
	return pairs, nil
}

func parseVector(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	vec := make([]float32, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %q: %w", f, err)
		}
		vec = append(vec, float32(x))
	}
	return vec, nil
}

func runRank(ctx context.Context, cmd *cobra.Command, _ []string, m *indexing.Manager) error {
	top, _ := cmd.Flags().GetInt("top")
	iterations, _ := cmd.Flags().GetInt("iterations")

	view, err := m.GraphSnapshot()
	if err != nil {
		return err
	}
	defer view.Close()

	ranks, err := algo.PageRank(ctx, view, algo.PageRankOptions{Iterations: iterations})
	if err != nil {
		return err
	}
	type ranked struct {
		id    string
		score float64
	}
	list := make([]ranked, 0, len(ranks))
	for id, score := range ranks {
		list = append(list, ranked{id, score})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].id < list[j].id
	})
	if top > 0 && len(list) > top {
		list = list[:top]
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%.6f\n", r.id, r.score)
	}
	return nil
}

func runCompact(ctx context.Context, cmd *cobra.Command, _ []string, m *indexing.Manager) error {
	n, err := m.CompactVectors()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d vector slots\n", n)
	if err := m.PersistVectors(ctx); err != nil && !errors.Is(err, indexing.ErrNoPersistPath) {
		return err
	}
	return nil
}
