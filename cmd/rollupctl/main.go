package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rollupcore/rollup-core/internal/audit"
	"github.com/rollupcore/rollup-core/internal/cache"
	"github.com/rollupcore/rollup-core/internal/config"
	"github.com/rollupcore/rollup-core/internal/dlq"
	"github.com/rollupcore/rollup-core/internal/executor"
	"github.com/rollupcore/rollup-core/internal/graph"
	"github.com/rollupcore/rollup-core/internal/index"
	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/queue"
	"github.com/rollupcore/rollup-core/internal/service"
	"github.com/rollupcore/rollup-core/internal/storage"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
	svc     *service.Service

	closers []func() error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeAll()
		os.Exit(1)
	}
	closeAll()
}

func closeAll() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && logger != nil {
			logger.WithError(err).Warn("cleanup failed")
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "rollupctl",
	Short: "rollupctl operates the rollup execution core",
	Long: `rollupctl manages tenant-scoped cross-repository dependency rollups:
create and run rollup configs, inspect executions, and run blast-radius
queries against an execution's merged graph.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("failed to load config, using defaults")
			cfg = config.Default()
		}

		return wireService(cmd.Context())
	},
}

// wireService builds the full dependency graph the service facade
// needs: durable store, graph provider, two-tier cache, object index,
// executor, queue, audit log, and dead letter queue. Subcommands reach
// everything through the package-level svc.
func wireService(ctx context.Context) error {
	logCfg := logging.Config{Level: logging.INFO, JSONFormat: cfg.Mode == "production"}
	if verbose {
		logCfg.Level = logging.DEBUG
	}
	appLogger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := storage.NewPostgresStore(cfg.Storage.PostgresDSN, appLogger)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	closers = append(closers, store.Close)

	graphCtx, cancel := context.WithTimeout(ctx, cfg.Graph.ConnectTimeout)
	defer cancel()
	graphClient, err := graph.NewClientWithDatabase(graphCtx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, "neo4j")
	if err != nil {
		return fmt.Errorf("connect graph: %w", err)
	}
	closers = append(closers, func() error { return graphClient.Close(ctx) })

	l1 := cache.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL)
	var l2 *cache.Client
	if cfg.Cache.RedisAddr != "" {
		l2, err = cache.NewClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB, "", cfg.Cache.L2TTL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, running L1-only")
			l2 = nil
		} else {
			closers = append(closers, l2.Close)
		}
	}

	idx := index.New(l1, l2, store, cfg.Cache.StaleWindow, appLogger)
	exec := executor.New(graphClient, idx, store, cfg.Executor, appLogger)
	q := queue.New(cfg.Queue, cfg.RateLimit, appLogger)
	closers = append(closers, func() error { q.Close(); return nil })

	auditDir := os.Getenv("ROLLUP_AUDIT_DIR")
	if auditDir == "" {
		auditDir = "./audit-log"
	}
	auditLogger := audit.NewLogger(auditDir)

	svc = service.New(store, exec, q, auditLogger, cfg.Risk, appLogger)
	svc.WithDeadLetterQueue(dlq.NewQueue(store.DB()))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml in . or /etc/rollup-core)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`rollupctl {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(rollupCreateCmd)
	rootCmd.AddCommand(rollupGetCmd)
	rootCmd.AddCommand(rollupListCmd)
	rootCmd.AddCommand(rollupArchiveCmd)
	rootCmd.AddCommand(rollupDeleteCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(executionGetCmd)
	rootCmd.AddCommand(executionListCmd)
	rootCmd.AddCommand(blastRadiusCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

func mustTenant(cmd *cobra.Command) string {
	tenant, _ := cmd.Flags().GetString("tenant")
	return tenant
}

func timeoutCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 2*time.Minute)
}
