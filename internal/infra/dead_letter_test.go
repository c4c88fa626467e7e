//go:build integration

package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisDeadLetters_FIFOReplay(t *testing.T) {
	ctx := context.Background()
	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })
	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	rdb, err := NewRedis(url)
	require.NoError(t, err)
	dlq := NewRedisDeadLetters(rdb, "")

	empty, err := dlq.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, key := range []string{"intake:b:v:stock_addition", "intake:b:v:warranty_bonus"} {
		require.NoError(t, dlq.Push(ctx, DeadLetter{
			Key:     key,
			BatchID: "b",
			Payload: StockMovementRequest{MovementType: "addition", Quantity: 3, IdempotencyKey: key},
			Reason:  "ledger: returned 503",
		}))
	}

	n, err := dlq.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	listed, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "intake:b:v:warranty_bonus", listed[0].Key, "newest first")
	assert.NotEmpty(t, listed[0].FailedAt)

	first, err := dlq.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "intake:b:v:stock_addition", first.Key, "oldest popped first")
	assert.Equal(t, 3, first.Payload.Quantity)
}
