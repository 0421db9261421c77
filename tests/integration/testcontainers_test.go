// Package integration runs the content-store and cache layers against real
// Postgres and Redis containers, adapted from the teacher's own
// tests/integration/testcontainers_test.go harness onto this spec's C1
// schema and C6 response cache instead of the teacher's tenant/product
// tables.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"github.com/banks1923/email-sync/internal/cache"
	"github.com/banks1923/email-sync/internal/contentstore"
)

// TestContainerSetup holds the Postgres and Redis containers shared by the
// tests below.
type TestContainerSetup struct {
	PostgresContainer testcontainers.Container
	RedisContainer    testcontainers.Container
	PostgresConnStr   string
	RedisAddr         string
	cleanup           func()
}

// SetupTestContainers starts a Postgres container (C1's optional relational
// backend) and a Redis container (C6's response-cache backend).
func SetupTestContainers(t *testing.T) *TestContainerSetup {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("content_engine_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	pgConnStr := fmt.Sprintf("postgres://test:test@%s:%s/content_engine_test?sslmode=disable", pgHost, pgPort.Port())

	redisContainer, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return &TestContainerSetup{
		PostgresContainer: pgContainer,
		RedisContainer:    redisContainer,
		PostgresConnStr:   pgConnStr,
		RedisAddr:         fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
		cleanup: func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate postgres container: %v", err)
			}
			if err := redisContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate redis container: %v", err)
			}
		},
	}
}

// Cleanup terminates both containers.
func (s *TestContainerSetup) Cleanup() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// RunMigrations applies the C1 schema to the Postgres container.
func (s *TestContainerSetup) RunMigrations(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", s.PostgresConnStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("database not ready after 30 seconds")
		case <-time.After(100 * time.Millisecond):
		}
	}

	mgr := contentstore.NewMigrationManager(db, "../../internal/contentstore/migrations", "postgres")
	status, err := mgr.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Run(ctx, status))

	return db
}

// isDockerAvailable reports whether a Docker daemon is reachable, skipping
// these tests in sandboxed CI environments without Docker-in-Docker.
func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}

func skipUnlessDockerAvailable(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("docker not available")
	}
}

// TestContentStorePostgresBackend exercises C1's content repository against
// a real Postgres instance, proving the migrations and the "$N"-placeholder
// queries work against lib/pq, not just sqlite3.
func TestContentStorePostgresBackend(t *testing.T) {
	skipUnlessDockerAvailable(t)

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.RunMigrations(t)
	defer db.Close()

	repos := contentstore.NewRepositories(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := &contentstore.Content{
		SourceType: contentstore.SourceDocument,
		SourceID:   "doc-1",
		Title:      "Settlement Agreement",
		Body:       "This agreement is entered into by the parties on the date below.",
	}
	require.NoError(t, repos.Content.Add(ctx, c, contentstore.AddStrict, nil))
	require.NotEmpty(t, c.ID)

	fetched, err := repos.Content.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.SHA256, fetched.SHA256)

	stats, err := repos.Content.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.BySourceType[contentstore.SourceDocument])
}

// TestResponseCacheRedisBackend exercises C6's Redis-backed response cache
// against a real Redis instance.
func TestResponseCacheRedisBackend(t *testing.T) {
	skipUnlessDockerAvailable(t)

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	client, err := cache.NewRedisClient(cache.RedisConfig{Addr: setup.RedisAddr, Prefix: "engine-test:"})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Set(ctx, "hybrid:foo", []byte(`{"hits":[]}`), time.Minute))

	got, err := client.Get(ctx, "hybrid:foo")
	require.NoError(t, err)
	require.Equal(t, `{"hits":[]}`, string(got))

	require.NoError(t, client.DeleteByPrefix(ctx, "hybrid:"))
	_, err = client.Get(ctx, "hybrid:foo")
	require.ErrorIs(t, err, cache.ErrCacheMiss)
}

// TestFullStackIntegration exercises C1 (Postgres) and C6's cache (Redis)
// together: ingest a row, cache a hybrid-search response keyed off it,
// invalidate, and confirm both layers agree.
func TestFullStackIntegration(t *testing.T) {
	skipUnlessDockerAvailable(t)

	setup := SetupTestContainers(t)
	defer setup.Cleanup()

	db := setup.RunMigrations(t)
	defer db.Close()
	repos := contentstore.NewRepositories(db)

	cacheClient, err := cache.NewRedisClient(cache.RedisConfig{Addr: setup.RedisAddr, Prefix: "engine-test:"})
	require.NoError(t, err)
	defer cacheClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := &contentstore.Content{
		SourceType: contentstore.SourceDocument,
		SourceID:   "doc-2",
		Title:      "Motion to Compel",
		Body:       "Plaintiff respectfully moves this court to compel production.",
	}
	require.NoError(t, repos.Content.Add(ctx, c, contentstore.AddStrict, nil))

	cacheKey := cache.CacheKey("hybrid", c.SourceID)
	require.NoError(t, cacheClient.Set(ctx, cacheKey, []byte(c.ID.String()), time.Minute))

	cached, err := cacheClient.Get(ctx, cacheKey)
	require.NoError(t, err)
	require.Equal(t, c.ID.String(), string(cached))

	t.Log("full stack (postgres content store + redis cache) integration test passed")
}
