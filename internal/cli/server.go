package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/config"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
	"trivia-live-service/internal/infra/postgres"
	redisstore "trivia-live-service/internal/infra/redis"
	"trivia-live-service/internal/logging"
	"trivia-live-service/internal/realtime"
	transport "trivia-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// gameStore is what a persistence backend provides to the service and the hub.
type gameStore interface {
	app.GameStore
	app.ChangeFeed
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

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
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	var profiles app.ProfileRepository = memory.NewProfileRepository()
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := migrateDB(ctx, db, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewBankLoader(pool)
		profiles = postgres.NewProfileRepository(db)
	}

	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	var banks app.QuestionBankRepository
	var store gameStore
	if redisClient != nil {
		banks = redisstore.NewQuestionBankRepository(redisClient, loader, bankTTL)
		store = redisstore.NewGameStore(redisClient, redisTTL)
	} else {
		banks = memory.NewQuestionBankRepository(loader, bankTTL)
		store = memory.NewGameStore()
	}

	opts := []app.Option{app.WithLogger(logger)}
	if cfg.Game.AutoReveal {
		opts = append(opts, app.WithAutoReveal(config.TTLDuration(cfg.Game.RevealGrace, 2*time.Second)))
	}
	service := app.NewGameService(store, banks, profiles, opts...)
	hub := realtime.NewHub(store, store, logger)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewMux(transport.NewAPI(service, logger), transport.NewWSHandler(service, hub, logger)),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut long-lived websocket connections
	}

	go func() {
		logger.Info("starting trivia service",
			slog.String("port", finalPort),
			slog.Bool("redis", redisClient != nil),
			slog.Bool("postgres", cfg.Postgres.URL != ""),
			slog.Bool("auto_reveal", cfg.Game.AutoReveal))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", slog.Any("err", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBanks seeds the in-memory loader when no Postgres is configured.
func sampleBanks() map[string]domain.QuestionBank {
	return map[string]domain.QuestionBank{
		"demo": {
			ID:   "demo",
			Name: "Demo Trivia",
			Questions: []domain.Question{
				{Question: "What is 2 + 2?", Answers: [4]string{"3", "4", "5", "6"}, CorrectLetter: "B", Duration: 20},
				{Question: "Which planet is known as the Red Planet?", Answers: [4]string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectLetter: "B", Duration: 20},
				{Question: "How many continents are there?", Answers: [4]string{"5", "6", "7", "8"}, CorrectLetter: "C", Duration: 15},
			},
		},
	}
}
