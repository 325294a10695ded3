package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/cli"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/infra/memory"
	pgstore "trivia-room-service/internal/infra/postgres"
	infraredis "trivia-room-service/internal/infra/redis"
)

func TestAnswerEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	if err := cli.RunMigrations(ctx, pgURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// a second run is a no-op
	if err := cli.RunMigrations(ctx, pgURL); err != nil {
		t.Fatalf("migrate again: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := pgstore.NewQuestionStore(pool)
	if err := store.Upsert(ctx, sampleQuestions()...); err != nil {
		t.Fatalf("seed questions: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	hub := memory.NewHub()
	events, cancel := hub.Subscribe(domain.RoomChannel("hard-1"), domain.PlayerChannel("guest-1"))
	defer cancel()

	stats := infraredis.NewStatsStore(redisClient)
	boards := infraredis.NewLeaderboardStore(redisClient)
	quotaStore := infraredis.NewQuotaStore(redisClient)
	settings := app.DefaultSettings()

	manager := app.NewManager(settings, app.Dependencies{
		Questions:   memory.NewQuestionRepository(infraredis.NewQuestionCache(redisClient, store, 5*time.Minute), 5*time.Minute),
		Stats:       stats,
		Leaderboard: boards,
		Quota:       app.NewQuotaGuard(quotaStore, settings.QuotaLimit, settings.QuotaExpiry, clock),
		Publisher:   hub,
		Clock:       clock,
	}, infraredis.NewSessionStore(redisClient, 5*time.Minute))
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	manager.Start(runCtx)

	if _, err := manager.Join(ctx, app.JoinRequest{
		Player:     domain.Player{ID: "guest-1", DisplayName: "Ann", GuestID: "1", NetworkAddress: "10.0.0.1"},
		Difficulty: domain.DifficultyHard,
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	waitForEvent(t, events, domain.EventQuestionStart)
	eventually(t, func() bool {
		live, err := redisClient.Get(ctx, "trivia:room:hard-1:live").Result()
		return err == nil && live == "hard-1:1"
	}, "live marker for hard-1:1")

	manager.SubmitAnswer("hard-1", "guest-1", 0)
	ev := waitForEvent(t, events, domain.EventAnswerResult)
	result := ev.Payload.(domain.AnswerResultPayload)
	if !result.IsCorrect || result.PointsAwarded != 150 {
		t.Fatalf("expected a 150 point win, got %+v", result)
	}

	eventually(t, func() bool {
		top, err := boards.Top(ctx, "leaderboard:alltime", 10)
		return err == nil && len(top) == 1 && top[0].PlayerID == "guest-1" && top[0].Score == 150
	}, "alltime leaderboard")
	eventually(t, func() bool {
		s, err := stats.Get(ctx, "guest-1")
		return err == nil && s.Correct == 1 && s.BestStreak == 1
	}, "player stats")
	eventually(t, func() bool {
		n, err := quotaStore.GetCount(ctx, domain.QuotaNetwork, "10.0.0.1", "2024-03-01")
		return err == nil && n == 1
	}, "quota counter")
	eventually(t, func() bool {
		asked, correct, _, err := store.Counters(ctx, "h1")
		return err == nil && asked == 1 && correct == 1
	}, "question counters")
}

func waitForEvent(t *testing.T, events <-chan domain.Event, typ string) domain.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s never converged", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trivia", "POSTGRES_PASSWORD": "triviapass", "POSTGRES_DB": "triviadb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://trivia:triviapass@%s:%s/triviadb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           "h1",
			Text:         "Which element has the symbol W?",
			Options:      []string{"Tungsten", "Wolfram-ite", "Osmium", "Vanadium"},
			CorrectIndex: 0,
			Category:     "science",
			Difficulty:   domain.DifficultyHard,
			Explanation:  "W comes from wolfram.",
		},
		{
			ID:           "e1",
			Text:         "What is 2 + 2?",
			Options:      []string{"3", "4", "5"},
			CorrectIndex: 1,
			Category:     "math",
			Difficulty:   domain.DifficultyEasy,
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
