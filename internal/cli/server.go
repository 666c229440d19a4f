package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/config"
	"trivia-forge-service/internal/domain"
	"trivia-forge-service/internal/infra/memory"
	pginfra "trivia-forge-service/internal/infra/postgres"
	redisinfra "trivia-forge-service/internal/infra/redis"
	transport "trivia-forge-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var db *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db = bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
	}

	gameCfg := gameConfigFrom(cfg)
	guardLimits := guardLimitsFrom(cfg)
	sessionTTL := gameCfg.SessionTTL

	var source app.QuestionSource = memory.NewQuestionSource(sampleQuestions())
	if pool != nil {
		source = pginfra.NewQuestionSource(pool)
	}
	selector := app.NewSelector(source, selectorConfigFrom(cfg))

	var (
		guard    app.SlotGuard
		sessions app.SessionStore
		seen     app.SeenStore
		ladder   app.Ladder
		janitor  app.Janitor
	)
	if redisClient != nil {
		guard = redisinfra.NewGuard(redisClient, guardLimits)
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL)
		seen = redisinfra.NewSeenStore(redisClient)
		ladder = redisinfra.NewLadder(redisClient)
		janitor = redisinfra.NewJanitor(redisClient)
	} else {
		guard = memory.NewGuard(memory.GuardLimits(guardLimits))
		sessions = memory.NewSessionStore(sessionTTL)
		seen = memory.NewSeenStore()
		ladder = memory.NewLadder()
		janitor = memory.NewJanitor()
	}

	var (
		history   app.HistoryRepo
		rights    app.EligibilityRepo
		points    app.SeasonPointsRepo
		seasons   app.SeasonRepo
		snapshots app.SnapshotRepo
		inventory app.Inventory
		forgeOps  app.ForgeRepo
	)
	if db != nil {
		history = pginfra.NewHistoryRepo(db)
		rights = pginfra.NewEligibilityRepo(db)
		points = pginfra.NewSeasonPointsRepo(db)
		seasons = pginfra.NewSeasonRepo(db)
		snapshots = pginfra.NewSnapshotRepo(db)
		inventory = pginfra.NewInventory(db)
		forgeOps = pginfra.NewForgeRepo(db)
	} else {
		history = memory.NewHistoryRepo()
		rights = memory.NewEligibilityRepo()
		points = memory.NewSeasonPointsRepo()
		seasons = memory.NewSeasonRepo()
		snapshots = memory.NewSnapshotRepo()
		inventory = memory.NewInventory()
		forgeOps = memory.NewForgeRepo()
	}

	if err := ensureActiveSeason(ctx, seasons, time.Now()); err != nil {
		return err
	}

	game := app.NewGameService(guard, selector, sessions, seen, ladder, history, rights, points, seasons, gameCfg, logger)
	forge := app.NewForgeService(inventory, forgeOps, &handoffLedger{logger: logger}, logger)

	maintenance := app.NewMaintenance(rights, ladder, snapshots, seasons, janitor, maintenanceConfigFrom(cfg), logger)
	if err := maintenance.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			logger.Warn("maintenance stop", "err", err)
		}
	}()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(game, forge, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting trivia engine", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func gameConfigFrom(cfg config.Config) app.GameConfig {
	defaults := app.DefaultGameConfig()
	return app.GameConfig{
		SessionTTL:             config.Duration(cfg.Game.SessionTTL, defaults.SessionTTL),
		AnswerBudget:           config.Duration(cfg.Game.AnswerBudget, defaults.AnswerBudget),
		WinThreshold:           config.IntOr(cfg.Game.WinThreshold, defaults.WinThreshold),
		PerfectBonus:           config.IntOr(cfg.Game.PerfectBonus, defaults.PerfectBonus),
		EligibilityWindow:      config.Duration(cfg.Game.EligibilityWindow, defaults.EligibilityWindow),
		EligibilityWindowGuest: config.Duration(cfg.Game.EligibilityGuest, defaults.EligibilityWindowGuest),
	}
}

func selectorConfigFrom(cfg config.Config) app.SelectorConfig {
	defaults := app.DefaultSelectorConfig()
	return app.SelectorConfig{
		ReuseRatio:     config.FloatOr(cfg.Game.ReuseRatio, defaults.ReuseRatio),
		SplitThreshold: config.IntOr(cfg.Game.PoolSplitThreshold, defaults.SplitThreshold),
		MinPlayable:    defaults.MinPlayable,
		CacheTTL:       config.Duration(cfg.Game.PoolCacheTTL, defaults.CacheTTL),
	}
}

func guardLimitsFrom(cfg config.Config) redisinfra.GuardLimits {
	defaults := redisinfra.DefaultGuardLimits()
	return redisinfra.GuardLimits{
		Daily:      config.IntOr(cfg.Game.DailyLimit, defaults.Daily),
		DailyGuest: config.IntOr(cfg.Game.DailyLimitGuest, defaults.DailyGuest),
		Cooldown:   config.Duration(cfg.Game.Cooldown, defaults.Cooldown),
		LockTTL:    config.Duration(cfg.Game.SessionTTL, defaults.LockTTL),
	}
}

func maintenanceConfigFrom(cfg config.Config) app.MaintenanceConfig {
	defaults := app.DefaultMaintenanceConfig()
	return app.MaintenanceConfig{
		SweepInterval:    config.Duration(cfg.Jobs.SweepInterval, defaults.SweepInterval),
		SnapshotInterval: config.Duration(cfg.Jobs.SnapshotInterval, defaults.SnapshotInterval),
		SnapshotBatch:    config.IntOr(cfg.Jobs.SnapshotBatch, defaults.SnapshotBatch),
	}
}

// ensureActiveSeason opens the current quarter when no season is active yet,
// so a fresh deployment can serve sessions immediately.
func ensureActiveSeason(ctx context.Context, seasons app.SeasonRepo, now time.Time) error {
	_, err := seasons.Active(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrSeasonNotFound) {
		return err
	}

	year, quarter := now.Year(), (int(now.Month())-1)/3+1
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return seasons.Create(ctx, &domain.Season{
		ID:       fmt.Sprintf("%d-q%d", year, quarter),
		Name:     fmt.Sprintf("Season %d Q%d", year, quarter),
		StartsAt: start,
		EndsAt:   start.AddDate(0, 3, 0),
		Active:   true,
	})
}

// handoffLedger accepts forge hand-offs locally. The actual ledger write is
// an external collaborator reporting back via the resolution callback.
type handoffLedger struct {
	logger *slog.Logger
}

func (l *handoffLedger) SubmitForge(_ context.Context, op *domain.ForgeOperation) error {
	l.logger.Info("forge operation handed off", "op", op.ID, "type", op.Type, "inputs", len(op.Inputs))
	return nil
}

// sampleQuestions provides a small built-in pool for store-less runs; swap in
// the Postgres source for production.
func sampleQuestions() map[string][]domain.Question {
	pools := make(map[string][]domain.Question)
	for _, category := range []string{"history", "science", "geography"} {
		questions := make([]domain.Question, 0, 12)
		for i := 0; i < 12; i++ {
			questions = append(questions, domain.Question{
				ID:           fmt.Sprintf("%s-sample-%d", category, i),
				Text:         fmt.Sprintf("Sample %s question %d?", category, i+1),
				Options:      []string{"A", "B", "C", "D"},
				CorrectIndex: i % 4,
				Explanation:  "Sample explanation.",
			})
		}
		pools[category] = questions
	}
	return pools
}
