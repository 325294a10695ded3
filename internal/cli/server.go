package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/auth"
	"trivia-room-service/internal/badges"
	"trivia-room-service/internal/config"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/infra/memory"
	natsbus "trivia-room-service/internal/infra/nats"
	pgstore "trivia-room-service/internal/infra/postgres"
	redisstore "trivia-room-service/internal/infra/redis"
	transport "trivia-room-service/internal/transport/http"
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

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// gameSettings turns the game and quota sections into session settings.
func gameSettings(cfg config.Config) app.Settings {
	s := app.DefaultSettings()
	g := cfg.Game
	if g.BatchSize > 0 {
		s.BatchSize = g.BatchSize
	}
	s.QuestionsPerSet = max(g.QuestionsPerSet, 0)
	if g.RoomCapacity > 0 {
		s.RoomCapacity = g.RoomCapacity
	}
	if g.CharsPerSecond > 0 {
		s.CharsPerSecond = g.CharsPerSecond
	}
	s.MinQuestionDuration = config.Duration(g.MinQuestionDuration, s.MinQuestionDuration)
	s.MaxQuestionDuration = config.Duration(g.MaxQuestionDuration, s.MaxQuestionDuration)
	s.BaseQuestionDuration = config.Duration(g.BaseQuestionDuration, s.BaseQuestionDuration)
	s.RevealGrace = config.Duration(g.RevealGrace, s.RevealGrace)
	s.ResultsDuration = config.Duration(g.ResultsDuration, s.ResultsDuration)
	s.RestartCooldown = config.Duration(g.RestartCooldown, s.RestartCooldown)
	s.ShutdownGrace = config.Duration(cfg.Server.ShutdownGrace, s.ShutdownGrace)
	for name, sc := range g.Scoring {
		d, err := domain.ParseDifficulty(name)
		if err != nil || name == "" {
			log.Warn().Str("tier", name).Msg("scoring for unknown difficulty ignored")
			continue
		}
		s.Scoring[d] = app.Scoring{Correct: sc.Correct, Wrong: sc.Wrong}
	}
	s.QuotaLimit = cfg.Quota.DailyLimit
	s.QuotaExpiry = config.Duration(cfg.Quota.Expiry, s.QuotaExpiry)
	return s
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := RunMigrations(ctx, cfg.Postgres.URL); err != nil {
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

	settings := gameSettings(cfg)
	clock := clockwork.NewRealClock()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// question supply: postgres (or the built-in bank), shared through redis when present
	var source memory.QuestionSource
	if pool != nil {
		source = pgstore.NewQuestionStore(pool)
	} else {
		bank := memory.NewQuestionBank()
		for _, d := range domain.Difficulties {
			bank.Add(app.FallbackQuestions(d)...)
		}
		source = bank
		log.Warn().Msg("no postgres configured, serving the built-in question bank")
	}
	poolTTL := config.Duration(cfg.Game.PoolTTL, 5*time.Minute)
	if redisClient != nil {
		source = redisstore.NewQuestionCache(redisClient, source, poolTTL)
	}
	questions := memory.NewQuestionRepository(source, poolTTL)

	var (
		quotaStore app.QuotaStore
		statsStore app.StatsStore
		boards     app.LeaderboardStore
		sessions   app.SessionRepository
		redisRooms *redisstore.SessionStore
	)
	if redisClient != nil {
		quotaStore = redisstore.NewQuotaStore(redisClient)
		statsStore = redisstore.NewStatsStore(redisClient)
		boards = redisstore.NewLeaderboardStore(redisClient)
		redisRooms = redisstore.NewSessionStore(redisClient, redisTTL)
		sessions = redisRooms
	} else {
		quotaStore = memory.NewQuotaStore()
		statsStore = memory.NewStatsStore()
		boards = memory.NewLeaderboardStore()
		sessions = memory.NewSessionStore()
	}

	hub := memory.NewHub()
	publishers := app.FanoutPublisher{hub}
	var bus *natsbus.Bus
	if cfg.NATS.URL != "" {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		bus, err = natsbus.Connect(natsCfg)
		if err != nil {
			return err
		}
		defer bus.Close()
		publishers = append(publishers, bus)
	}

	manager := app.NewManager(settings, app.Dependencies{
		Questions:   questions,
		Badges:      badges.NewEvaluator(),
		Stats:       statsStore,
		Leaderboard: boards,
		Quota:       app.NewQuotaGuard(quotaStore, settings.QuotaLimit, settings.QuotaExpiry, clock),
		Publisher:   publishers,
		Clock:       clock,
	}, sessions)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	manager.Start(runCtx)

	if bus != nil {
		if err := bus.Listen(runCtx, manager); err != nil {
			return err
		}
	}
	if redisRooms != nil {
		go refreshLiveness(runCtx, redisRooms, redisTTL/2)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, 0)
	if !tokens.Enabled() {
		log.Warn().Msg("no jwt secret configured, only guests can join")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", transport.NewWSHandler(manager, hub, tokens).ServeWS)
	transport.NewAPIHandler(manager, boards, clock).Register(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     c.Handler(mux),
		ReadTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", finalPort).Msg("starting trivia server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("rooms did not drain in time")
	}
	return server.Shutdown(shutdownCtx)
}

// refreshLiveness keeps the redis room markers alive while sets run.
func refreshLiveness(ctx context.Context, rooms *redisstore.SessionStore, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rooms.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("room liveness refresh failed")
			}
		}
	}
}
