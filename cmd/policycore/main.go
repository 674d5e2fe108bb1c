package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/config"
	"github.com/courtline/policycore/internal/engine"
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/hardstop"
	httpiface "github.com/courtline/policycore/internal/interfaces/http"
	"github.com/courtline/policycore/internal/metrics"
	"github.com/courtline/policycore/internal/optimizer"
	"github.com/courtline/policycore/internal/persistence"
	"github.com/courtline/policycore/internal/persistence/memory"
	"github.com/courtline/policycore/internal/persistence/postgres"
	"github.com/courtline/policycore/internal/policy"
	"github.com/courtline/policycore/internal/providers"
	"github.com/courtline/policycore/internal/quality"
)

const (
	appName = "policycore"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Courtline policy decision core",
		Version: version,
		Long: `Policy decision core for the Courtline betting dashboard.

Turns model outputs into PICK / NO_BET / HARD_STOP decisions through
independent gates, quality-scored fallback, and hard-stop risk budgets.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate <game-id>",
		Short: "Evaluate one game and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(configPath, args[0])
		},
	}

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the threshold optimizer against resolved outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID, _ := cmd.Flags().GetString("model")
			apply, _ := cmd.Flags().GetBool("apply")
			return runOptimize(configPath, modelID, apply)
		},
	}
	optimizeCmd.Flags().String("model", "", "Restrict the sample window to one model id")
	optimizeCmd.Flags().Bool("apply", false, "Apply the recommendation as a new policy version")

	rootCmd.AddCommand(serveCmd, evaluateCmd, optimizeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// stores bundles the persistence layer behind the consumer interfaces
// so the wiring below is identical for postgres and memory drivers.
type stores struct {
	snapshots policy.SnapshotStore
	decisions persistence.DecisionRepo
	outcomes  persistence.OutcomeRepo
	hardstops hardstop.Store
	close     func()
}

func openStores(ctx context.Context, cfg config.App) (stores, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Storage.DSN, cfg.Storage.MaxOpenConns)
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("ensure schema: %w", err)
		}
		t := cfg.Storage.QueryTimeout
		return stores{
			snapshots: postgres.NewSnapshotRepo(db, t),
			decisions: postgres.NewDecisionRepo(db, t),
			outcomes:  postgres.NewOutcomeRepo(db, t),
			hardstops: postgres.NewHardStopRepo(db, t),
			close:     func() { db.Close() },
		}, nil
	default:
		return stores{
			snapshots: memory.NewSnapshotStore(),
			decisions: memory.NewDecisionRepo(),
			outcomes:  memory.NewOutcomeRepo(),
			hardstops: memory.NewHardStopStore(),
			close:     func() {},
		}, nil
	}
}

func buildEngine(ctx context.Context, cfg config.App, st stores, m *metrics.Registry, logger zerolog.Logger) (*engine.Engine, *breaker.Registry, error) {
	sink := audit.NewLogSink(logger)
	breakers := breaker.NewRegistry(cfg.Breakers, m.ObserveBreakerChange, m.ObserveBreakerRejection, logger)

	registry := fallback.NewRegistry(breakers, cfg.Fallback.LookupsPerSecond, cfg.Fallback.LookupBurst, cfg.Fallback.LookupTimeout, logger)
	registerProviders(registry, cfg.Fallback.Levels)

	gates := quality.NewGates(cfg.Quality, logger)
	chain := fallback.NewChain(cfg.Fallback.Levels, registry, gates, logger)

	tracker, err := hardstop.NewTracker(ctx, st.hardstops, cfg.Risk.BankrollUSD, sink, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load hard-stop state: %w", err)
	}

	versioner := policy.NewVersioner(st.snapshots, sink, logger)

	eng, err := engine.New(ctx, versioner, chain, tracker, st.decisions, st.outcomes, breakers, sink, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return eng, breakers, nil
}

// registerProviders wires a static provider per configured level.
// Real model-serving adapters replace these at deployment time.
func registerProviders(registry *fallback.Registry, levels []fallback.LevelSpec) {
	for _, spec := range levels {
		if spec.Level == fallback.LevelForceNoBet || spec.ModelID == "" {
			continue
		}
		registry.Register(providers.NewStatic(spec.ModelID, spec.ModelID))
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	m := metrics.NewRegistry()
	eng, _, err := buildEngine(ctx, cfg, st, m, log.Logger)
	if err != nil {
		return err
	}

	server := httpiface.NewServer(cfg.Server.ListenAddr, eng, m, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runEvaluate(configPath, gameID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	m := metrics.NewRegistry()
	eng, _, err := buildEngine(ctx, cfg, st, m, log.Logger)
	if err != nil {
		return err
	}

	decision := eng.Evaluate(ctx, engine.CandidateInput{GameID: gameID})

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runOptimize(configPath, modelID string, apply bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	opt := optimizer.New(cfg.Optimizer, st.outcomes, log.Logger)
	rec, err := opt.Run(ctx, modelID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !apply {
		return nil
	}
	if !rec.Applied {
		log.Warn().Str("reason", rec.Reason).Msg("Recommendation declined, nothing to apply")
		return nil
	}

	sink := audit.NewLogSink(log.Logger)
	versioner := policy.NewVersioner(st.snapshots, sink, log.Logger)

	candidate, err := versioner.Current(ctx)
	if err != nil {
		return err
	}
	candidate.ConfidenceMin = rec.ConfidenceMin
	candidate.EdgeMin = rec.EdgeMin

	snapshot, err := versioner.Update(ctx, candidate, "optimizer", fmt.Sprintf("threshold optimization (%s)", rec.Method))
	if err != nil {
		return err
	}
	log.Info().Int64("version", snapshot.Version).Msg("Optimizer recommendation applied")
	return nil
}
