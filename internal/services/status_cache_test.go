package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"billing/internal/gateway"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatusCacheRoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(rdb, 3*time.Second)

	status := gateway.StatusResult{
		OrderID:     "gw-1",
		Status:      gateway.StatusDeposited,
		Operation:   gateway.OperationDeposited,
		AmountMinor: 50000,
	}
	data, err := json.Marshal(status)
	require.NoError(t, err)

	mock.ExpectSet("sbp:status:gw-1", data, 3*time.Second).SetVal("OK")
	mock.ExpectGet("sbp:status:gw-1").SetVal(string(data))

	cache.Set(context.Background(), "gw-1", status)
	got, ok := cache.Get(context.Background(), "gw-1")
	require.True(t, ok)
	assert.Equal(t, status, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStatusCacheMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(rdb, 3*time.Second)

	mock.ExpectGet("sbp:status:gw-missing").RedisNil()

	_, ok := cache.Get(context.Background(), "gw-missing")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStatusCacheCorruptPayload(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(rdb, 3*time.Second)

	mock.ExpectGet("sbp:status:gw-1").SetVal("{not json")

	_, ok := cache.Get(context.Background(), "gw-1")
	assert.False(t, ok)
}

func TestRedisStatusCacheDefaultTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewRedisStatusCache(rdb, 0)

	status := gateway.StatusResult{OrderID: "gw-1", Status: "0"}
	data, err := json.Marshal(status)
	require.NoError(t, err)

	mock.ExpectSet("sbp:status:gw-1", data, 3*time.Second).SetVal("OK")
	cache.Set(context.Background(), "gw-1", status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
