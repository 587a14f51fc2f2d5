package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotency_GetMissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := NewIdempotency(db)

	mock.ExpectGet("idemp:k1").RedisNil()

	resp, err := idem.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_GetInFlight(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := NewIdempotency(db)

	mock.ExpectGet("idemp:k1").SetVal(inFlightMarker)

	_, err := idem.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_LockAndGetStored(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := NewIdempotency(db)

	mock.ExpectSetNX("idemp:k2", inFlightMarker, time.Hour).SetVal(true)
	mock.ExpectGet("idemp:k2").SetVal(`{"status":201,"content_type":"application/json","result":"eyJvayI6dHJ1ZX0="}`)

	ok, err := idem.Lock(context.Background(), "k2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	resp, err := idem.Get(context.Background(), "k2")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_IncrWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCache(db)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("rl:1.2.3.4").SetVal(3)
	mock.ExpectExpireNX("rl:1.2.3.4", time.Minute).SetVal(false)
	mock.ExpectTxPipelineExec()

	n, err := cache.IncrWindow(context.Background(), "rl:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
