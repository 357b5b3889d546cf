package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/postgres"
	pgmigrations "trivia-live-service/internal/infra/postgres/migrations"
	infraredis "trivia-live-service/internal/infra/redis"
	"trivia-live-service/internal/realtime"
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewBankLoader(pool)
	if err := loader.SaveQuestionBank(ctx, sampleBank()); err != nil {
		t.Fatalf("seed bank: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := infraredis.NewGameStore(redisClient, 5*time.Minute)
	banks := infraredis.NewQuestionBankRepository(redisClient, loader, 5*time.Minute)
	profiles := postgres.NewProfileRepository(db)
	service := app.NewGameService(store, banks, profiles)
	hub := realtime.NewHub(store, store, nil)

	session, err := service.CreateSession(ctx, "admin-1", "bank-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sub, err := hub.SubscribeLeaderboard(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for _, p := range []struct {
		id, nick string
		anon     bool
	}{{"u1", "Alice", false}, {"u2", "Bob", false}, {"guest", "Guest", true}} {
		if _, _, err := service.JoinByPin(ctx, session.GamePin, p.id, p.nick, p.anon); err != nil {
			t.Fatalf("join %s: %v", p.id, err)
		}
	}

	if _, err := service.ShowQuestion(ctx, session.ID); err != nil {
		t.Fatalf("show question: %v", err)
	}
	for _, id := range []string{"u2", "u1", "guest"} {
		if _, err := service.SubmitAnswer(ctx, session.ID, id, 0, "B", true); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	reveal, err := service.RevealAnswer(ctx, session.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if reveal.Awards["u2"] != 140 || reveal.Awards["guest"] != 100 {
		t.Fatalf("unexpected awards %v", reveal.Awards)
	}

	deadline := time.After(10 * time.Second)
	for leader := ""; leader != "u2"; {
		select {
		case snap := <-sub.C:
			if len(snap.Entries) > 0 && snap.Entries[0].Score > 0 {
				leader = snap.Entries[0].PlayerID
			}
		case <-deadline:
			t.Fatalf("leaderboard never showed u2 leading")
		}
	}

	end, err := service.EndGame(ctx, session.ID, "Integration Night")
	if err != nil {
		t.Fatalf("end game: %v", err)
	}
	if end.Migration != (app.MigrationReport{Migrated: 2, Skipped: 1}) {
		t.Fatalf("unexpected migration %+v", end.Migration)
	}

	profile, err := profiles.GetProfile(ctx, "u2")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	entry := profile.MatchHistory[session.ID]
	if profile.Stats.GamesPlayed != 1 || entry.FinalRank != 1 || entry.FinalScore != 140 || entry.GameName != "Integration Night" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	// Replaying the migration must not double count.
	if _, err := service.MigrateEndOfGame(ctx, session.ID, "Integration Night"); err != nil {
		t.Fatalf("replay migration: %v", err)
	}
	profile, _ = profiles.GetProfile(ctx, "u2")
	if profile.Stats.GamesPlayed != 1 || profile.Stats.TotalQuestionsCorrect != 1 {
		t.Fatalf("migration replay changed stats: %+v", profile.Stats)
	}

	if err := service.DeleteSession(ctx, session.ID, "admin-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := service.FindSessionByPin(ctx, session.GamePin); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected pin released, got %v", err)
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

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:   "bank-1",
		Name: "Integration Bank",
		Questions: []domain.Question{
			{Question: "What is 2 + 2?", Answers: [4]string{"3", "4", "5", "6"}, CorrectLetter: "B", Duration: 20},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
