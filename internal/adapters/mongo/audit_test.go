package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newTestDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	return client.Database("ticketing_test")
}

func TestAuditLogger(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	audit := mongoadapter.NewAuditLogger(db, clock.NewFixed(now), observability.NewLogger())

	require.NoError(t, audit.Ping(ctx))
	require.NoError(t, audit.EnsureIndexes(ctx))
	// index creation is idempotent
	require.NoError(t, audit.EnsureIndexes(ctx))

	userID := uuid.New()
	require.NoError(t, audit.LogEvent(ctx, "payment.completed", userID, map[string]interface{}{
		"transaction_id": "pi_1",
		"tickets":        2,
	}))
	require.NoError(t, audit.LogEvent(ctx, "payment.failed", uuid.Nil, map[string]interface{}{
		"transaction_id": "pi_2",
	}))
	require.NoError(t, audit.LogEvent(ctx, "event.published", uuid.Nil, map[string]interface{}{
		"event_id": uuid.NewString(),
	}))

	logs, err := audit.ForTransaction(ctx, "pi_1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "payment.completed", logs[0].Action)
	assert.Equal(t, userID.String(), logs[0].UserID)
	assert.True(t, logs[0].Timestamp.Equal(now))

	logs, err = audit.ForTransaction(ctx, "pi_2")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].UserID)

	logs, err = audit.ForTransaction(ctx, "pi_missing")
	require.NoError(t, err)
	assert.Empty(t, logs)
}
