package queue

import (
	"context"
	"testing"
	"time"

	"aegis/internal/statestore"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_RejectsMalformedAddress(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	_, err := q.Enqueue(context.Background(), Request{AgentAddress: "not-an-address"})
	assert.Error(t, err)

	stats := q.GetStats(context.Background())
	assert.Zero(t, stats.Pending, "a rejected address must never reach the pending list")
}

func TestEnqueue_RejectsMalformedCalldata(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	_, err := q.Enqueue(context.Background(), Request{
		AgentAddress: "0x00000000000000000000000000000000000000aa",
		Calldata:     "not-hex",
	})
	assert.Error(t, err)

	stats := q.GetStats(context.Background())
	assert.Zero(t, stats.Pending, "malformed calldata must never reach the pending list")
}

func TestEnqueue_AcceptsWellFormedCalldata(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	_, err := q.Enqueue(context.Background(), Request{
		AgentAddress: "0x00000000000000000000000000000000000000aa",
		Calldata:     "0xaabbccdd",
	})
	require.NoError(t, err)

	stats := q.GetStats(context.Background())
	assert.Equal(t, 1, stats.Pending)
}

func TestEnqueue_EmptyCalldataSkipsValidation(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	_, err := q.Enqueue(context.Background(), Request{AgentAddress: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)
}

func TestEnqueue_NormalizesAddressCase(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	result, err := q.Enqueue(context.Background(), Request{AgentAddress: "0x00000000000000000000000000000000000000aa"})
	require.NoError(t, err)

	req, ok := q.GetStatus(context.Background(), result.ID)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex(), req.AgentAddress)
}

func TestQueue_Conservation(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		result, err := q.Enqueue(ctx, Request{AgentAddress: "0x0000000000000000000000000000000000000001"})
		require.NoError(t, err)
		ids = append(ids, result.ID)
	}
	assert.Equal(t, 5, q.GetStats(ctx).Pending)

	req, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, ids[0], req.ID)
	assert.Equal(t, StatusProcessing, req.Status)

	stats := q.GetStats(ctx)
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 1, stats.Processing)

	q.Complete(ctx, req.ID, CompleteResult{TxHash: "0xtx"})
	stats = q.GetStats(ctx)
	assert.Equal(t, 0, stats.Processing)
	assert.Equal(t, 1, stats.Completed)

	completed, ok := q.GetStatus(ctx, req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "0xtx", completed.TxHash)
}

func TestQueue_DequeueOnEmptyReturnsFalse(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	_, ok := q.Dequeue(context.Background())
	assert.False(t, ok)
}

func TestQueue_FailRetriesUntilExhausted(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 2)
	ctx := context.Background()

	result, err := q.Enqueue(ctx, Request{AgentAddress: "0x0000000000000000000000000000000000000002"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, ok := q.Dequeue(ctx)
		require.True(t, ok)
		require.Equal(t, result.ID, req.ID)
		q.Fail(ctx, req.ID, "transient failure", true)

		updated, ok := q.GetStatus(ctx, req.ID)
		require.True(t, ok)
		assert.Equal(t, StatusPending, updated.Status, "should be retried while under MaxRetries")
		assert.Equal(t, i+1, updated.RetryCount)
	}

	req, ok := q.Dequeue(ctx)
	require.True(t, ok)
	q.Fail(ctx, req.ID, "transient failure", true)

	final, ok := q.GetStatus(ctx, req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status, "retries exhausted, must terminally fail")
	assert.Equal(t, 1, q.GetStats(ctx).Failed)
	assert.Equal(t, 0, q.GetStats(ctx).Pending)
}

func TestQueue_RejectIsNeverRetried(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 5)
	ctx := context.Background()

	result, err := q.Enqueue(ctx, Request{AgentAddress: "0x0000000000000000000000000000000000000003"})
	require.NoError(t, err)

	req, ok := q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, result.ID, req.ID)

	q.Reject(ctx, req.ID, "policy failure")

	final, ok := q.GetStatus(ctx, req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, final.Status)
	assert.Equal(t, 0, q.GetStats(ctx).Pending)
}

func TestQueue_RecoverStaleRequests(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	ctx := context.Background()

	result, err := q.Enqueue(ctx, Request{AgentAddress: "0x0000000000000000000000000000000000000004"})
	require.NoError(t, err)

	req, ok := q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, result.ID, req.ID)

	// Backdate ProcessingStartedAt past the stale threshold directly in
	// the backing record, simulating a consumer that died mid-flight.
	req.ProcessingStartedAt = time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
	q.saveRequest(ctx, req)

	q.RecoverStaleRequests(ctx)

	recovered, ok := q.GetStatus(ctx, req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, recovered.Status)
	assert.Equal(t, 1, recovered.RetryCount)
	assert.Equal(t, 1, q.GetStats(ctx).Pending)
	assert.Equal(t, 0, q.GetStats(ctx).Processing)
}

func TestQueue_RecoverStaleRequests_FreshEntriesUntouched(t *testing.T) {
	q := New(statestore.NewMemoryStore(), 3)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Request{AgentAddress: "0x0000000000000000000000000000000000000005"})
	require.NoError(t, err)
	req, ok := q.Dequeue(ctx)
	require.True(t, ok)

	q.RecoverStaleRequests(ctx)

	still, ok := q.GetStatus(ctx, req.ID)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, still.Status, "a request processed moments ago must not be recovered")
	assert.Equal(t, 1, q.GetStats(ctx).Processing)
}
