package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient spins up a disposable Postgres container, runs the
// embedded migrations against it, and returns a ready Client.
func newTestClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("council_test"),
		postgres.WithUsername("council"),
		postgres.WithPassword("council"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := Config{
		Host:            host,
		Port:            port.Int(),
		User:            "council",
		Password:        "council",
		Database:        "council_test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 15 * time.Minute,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestClient_HealthReportsPoolStats(t *testing.T) {
	client := newTestClient(t)

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", status.Status)
}

func TestClient_EventRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	id, err := client.InsertEvent(ctx, "query-1", "deliberation:query-1", 1, []byte(`{"type":"council.started"}`))
	require.NoError(t, err)
	require.NotZero(t, id)

	events, err := client.EventsSince(ctx, "query-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(1), events[0].Seq)
}

func TestClient_BiasStatUpsertAndRead(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.UpsertBiasStat(ctx, "model-a", 0.3, 1))

	ewma, count, err := client.GetBiasStat(ctx, "model-a")
	require.NoError(t, err)
	require.Equal(t, 0.3, ewma)
	require.Equal(t, int64(1), count)
}
