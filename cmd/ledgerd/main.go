package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/queue"
	"github.com/holdonravn/Privora-core/internal/server"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledgerd.port", 8080)
	viper.SetDefault("ledgerd.cors_origins", []string{})
	viper.SetDefault("ledger.dir", "data/ledger")
	viper.SetDefault("ledger.max_partition_bytes", 64<<20)
	viper.SetDefault("ledger.snapshot_every", 100)
	viper.SetDefault("database.url", "")
	viper.SetDefault("queue.poll_interval", "1s")
	viper.SetDefault("queue.cache_size", 4096)
	viper.SetDefault("lease.ttl", "15s")
	viper.SetDefault("nonce.ttl", "5m")
	viper.SetDefault("nonce.capacity", 65536)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Coordination store ───────────────────────────────────────────────────
	// With a database configured, leases, the append FIFO, and nonces are
	// shared across instances. Without one, ledgerd runs single-instance:
	// an in-process store plus direct-append fallback in the queue.
	var (
		store  coord.Store
		nonces coord.NonceStore
	)
	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := coord.NewPostgresStore(db, logger)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure coordination schema: %w", err)
		}
		store = pg
		nonces = pg
		logger.Info("coordination store: postgres")
	} else {
		nonces = coord.NewMemoryNonceStore(viper.GetInt("nonce.capacity"))
		logger.Info("coordination store: none, running single-instance")
	}

	// ── Ledger ───────────────────────────────────────────────────────────────
	dir := viper.GetString("ledger.dir")
	l, err := ledger.Open(ledger.Config{
		Dir:               dir,
		MaxPartitionBytes: viper.GetInt64("ledger.max_partition_bytes"),
		SnapshotEvery:     viper.GetInt("ledger.snapshot_every"),
	}, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	verifyPartitions(dir, logger)

	st := l.CurrentRoot()
	logger.Info("ledger open",
		zap.String("day", st.Day),
		zap.Int("leaves", st.LeafCount),
	)

	// ── Queue and leadership ─────────────────────────────────────────────────
	leaseTTL, _ := time.ParseDuration(viper.GetString("lease.ttl"))
	pollInterval, _ := time.ParseDuration(viper.GetString("queue.poll_interval"))

	var elector *coord.Elector
	if store != nil {
		elector = coord.NewElector(store, "ledger-writer", leaseTTL, logger)
		if ok, err := elector.Acquire(context.Background()); err != nil {
			logger.Warn("initial lease acquire failed", zap.Error(err))
		} else if ok {
			logger.Info("acquired writer lease", zap.String("holder", elector.Holder()))
		}
	}

	q := queue.New(queue.Config{
		Store:        store,
		Elector:      elector,
		Ledger:       l,
		Logger:       logger,
		PollInterval: pollInterval,
		CacheSize:    viper.GetInt("queue.cache_size"),
	})
	q.Start()

	// ── HTTP server ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	nonceTTL, _ := time.ParseDuration(viper.GetString("nonce.ttl"))
	router := server.NewRouter(server.Config{
		Ledger:      l,
		Queue:       q,
		Nonces:      nonces,
		NonceTTL:    nonceTTL,
		CORSOrigins: viper.GetStringSlice("ledgerd.cors_origins"),
		Logger:      logger,
	})

	port := viper.GetInt("ledgerd.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down ledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := q.Close(ctx); err != nil {
		logger.Error("queue shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// verifyPartitions walks every partition chain on disk at startup and logs
// the outcome. Integrity failures are warnings, not fatal: the operator
// decides what to do with a tampered historical partition.
func verifyPartitions(dir string, logger *zap.Logger) {
	paths, err := filepath.Glob(filepath.Join(dir, "ledger-*.ndjson"))
	if err != nil {
		return
	}
	for _, p := range paths {
		if err := ledger.VerifyPartition(p); err != nil {
			logger.Warn("partition integrity check FAILED",
				zap.String("file", p), zap.Error(err))
		} else {
			logger.Info("partition verified", zap.String("file", p))
		}
	}
}
