// Package queue implements the asynchronous sponsorship request queue
// (spec §4.5): a persistent FIFO with retry, stale recovery, and status
// lookup, backed by the shared State Store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"aegis/internal/adapters"
	"aegis/internal/statestore"
)

const keyPrefix = "aegis:queue:sponsorship:"

const (
	listPending    = keyPrefix + "pending"
	listProcessing = keyPrefix + "processing"
	listCompleted  = keyPrefix + "completed"
	listFailed     = keyPrefix + "failed"
	lockKey        = keyPrefix + "lock"
)

const (
	requestTTL        = 24 * time.Hour
	listTTL           = 24 * time.Hour
	lockTTL           = 5 * time.Second
	completedFailedCap = 1000
	staleThreshold     = 5 * time.Minute
)

// Status is the closed enumeration of a request's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// Source is the closed enumeration of where a request originated.
type Source string

const (
	SourceBotchan Source = "botchan"
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
	SourceManual  Source = "manual"
)

// Metadata carries the request's provenance and optional signature.
type Metadata struct {
	Source             Source `json:"source"`
	EnqueuedAt         string `json:"enqueuedAt"`
	Signature          string `json:"signature,omitempty"`
	SignatureTimestamp int64  `json:"signatureTimestamp,omitempty"`
}

// Request is one queue element (spec's SponsorshipRequest).
type Request struct {
	ID                  string   `json:"id"`
	ProtocolID          string   `json:"protocolId"`
	AgentAddress        string   `json:"agentAddress"`
	AgentDisplayName    string   `json:"agentDisplayName,omitempty"`
	TargetContract      *string  `json:"targetContract,omitempty"`
	Calldata            string   `json:"calldata,omitempty"`
	EstimatedGasUnits   uint64   `json:"estimatedGasUnits"`
	EstimatedCostUSD    float64  `json:"estimatedCostUsd"`
	MaxGasLimit         uint64   `json:"maxGasLimit"`
	Metadata            Metadata `json:"metadata"`

	Status                Status  `json:"status"`
	ProcessingStartedAt   string  `json:"processingStartedAt,omitempty"`
	CompletedAt           string  `json:"completedAt,omitempty"`
	FailedAt              string  `json:"failedAt,omitempty"`
	TxHash                string  `json:"txHash,omitempty"`
	UserOpHash            string  `json:"userOpHash,omitempty"`
	ActualCostUSD         float64 `json:"actualCostUsd,omitempty"`
	Error                 string  `json:"error,omitempty"`
	RetryCount            int     `json:"retryCount"`
	MaxRetries            int     `json:"maxRetries"`
}

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	ID       string
	Position int
}

// Stats reports the length of each of the four lists.
type Stats struct {
	Pending, Processing, Completed, Failed int
}

// ErrLockContention is returned by Enqueue after its single retry fails to
// acquire the advisory lock.
var ErrLockContention = errors.New("queue: could not acquire lock")

// Queue is the sponsorship request queue.
type Queue struct {
	store          statestore.Store
	defaultRetries int
}

// New constructs a Queue backed by store, with newly enqueued requests
// getting maxRetries (spec default 3).
func New(store statestore.Store, maxRetries int) *Queue {
	return &Queue{store: store, defaultRetries: maxRetries}
}

type idList struct {
	Items     []string `json:"items"`
	UpdatedAt string   `json:"updatedAt"`
}

func (q *Queue) loadList(ctx context.Context, key string) idList {
	raw, ok := q.store.Get(ctx, key)
	if !ok {
		return idList{}
	}
	var l idList
	if err := json.Unmarshal(raw, &l); err != nil {
		log.Printf("queue: corrupt list %q, treating as empty: %v", key, err)
		return idList{}
	}
	return l
}

func (q *Queue) saveList(ctx context.Context, key string, l idList) {
	l.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(l)
	if err != nil {
		log.Printf("queue: failed to marshal list %q: %v", key, err)
		return
	}
	q.store.Set(ctx, key, raw, listTTL)
}

func (q *Queue) acquireLock(ctx context.Context, retryOnce bool) bool {
	now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if q.store.SetNX(ctx, lockKey, now, lockTTL) {
		return true
	}
	if !retryOnce {
		return false
	}
	time.Sleep(100 * time.Millisecond)
	return q.store.SetNX(ctx, lockKey, now, lockTTL)
}

func (q *Queue) releaseLock(ctx context.Context) {
	// The Store interface has no delete, so the lock is released by
	// overwriting it with a value that expires at once; lockTTL only bounds
	// how long a holder that never reaches this call blocks others.
	q.store.Set(ctx, lockKey, nil, time.Nanosecond)
}

func (q *Queue) requestKey(id string) string {
	return keyPrefix + "request:" + id
}

func (q *Queue) loadRequest(ctx context.Context, id string) (Request, bool) {
	raw, ok := q.store.Get(ctx, q.requestKey(id))
	if !ok {
		return Request{}, false
	}
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		log.Printf("queue: corrupt request record %q, dropping: %v", id, err)
		return Request{}, false
	}
	return r, true
}

func (q *Queue) saveRequest(ctx context.Context, r Request) {
	raw, err := json.Marshal(r)
	if err != nil {
		log.Printf("queue: failed to marshal request %q: %v", r.ID, err)
		return
	}
	q.store.Set(ctx, q.requestKey(r.ID), raw, requestTTL)
}

// Enqueue acquires the advisory lock (one retry after 100ms, else fails),
// assigns a new opaque id, writes the request record, and pushes the id to
// the tail of the pending list.
func (q *Queue) Enqueue(ctx context.Context, partial Request) (EnqueueResult, error) {
	normalizedAgent, err := adapters.NormalizeAddress(partial.AgentAddress)
	if err != nil {
		return EnqueueResult{}, err
	}
	partial.AgentAddress = normalizedAgent
	if partial.TargetContract != nil {
		normalizedTarget, err := adapters.NormalizeAddress(*partial.TargetContract)
		if err != nil {
			return EnqueueResult{}, err
		}
		partial.TargetContract = &normalizedTarget
	}
	if partial.Calldata != "" {
		if err := adapters.ValidateCalldata(partial.Calldata, nil); err != nil {
			return EnqueueResult{}, err
		}
	}

	if !q.acquireLock(ctx, true) {
		return EnqueueResult{}, ErrLockContention
	}
	defer q.releaseLock(ctx)

	partial.ID = uuid.NewString()
	partial.Status = StatusPending
	partial.RetryCount = 0
	if partial.MaxRetries == 0 {
		partial.MaxRetries = q.defaultRetries
	}
	if partial.Metadata.EnqueuedAt == "" {
		partial.Metadata.EnqueuedAt = time.Now().UTC().Format(time.RFC3339)
	}
	q.saveRequest(ctx, partial)

	pending := q.loadList(ctx, listPending)
	pending.Items = append(pending.Items, partial.ID)
	q.saveList(ctx, listPending, pending)

	return EnqueueResult{ID: partial.ID, Position: len(pending.Items)}, nil
}

// Dequeue pops the head of the pending list (best-effort lock, no retry),
// marks the request processing, and returns it. Returns ok=false if the
// pending list is empty or the popped record had already expired.
func (q *Queue) Dequeue(ctx context.Context) (Request, bool) {
	if !q.acquireLock(ctx, false) {
		return Request{}, false
	}
	defer q.releaseLock(ctx)

	pending := q.loadList(ctx, listPending)
	if len(pending.Items) == 0 {
		return Request{}, false
	}
	id := pending.Items[0]
	pending.Items = pending.Items[1:]
	q.saveList(ctx, listPending, pending)

	req, ok := q.loadRequest(ctx, id)
	if !ok {
		log.Printf("queue: dequeued id %q has no backing record (TTL expired), dropping", id)
		return Request{}, false
	}

	req.Status = StatusProcessing
	req.ProcessingStartedAt = time.Now().UTC().Format(time.RFC3339)
	q.saveRequest(ctx, req)

	processing := q.loadList(ctx, listProcessing)
	processing.Items = append(processing.Items, id)
	q.saveList(ctx, listProcessing, processing)

	return req, true
}

func removeID(items []string, id string) []string {
	out := items[:0:0]
	for _, v := range items {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func prependCapped(items []string, id string, cap int) []string {
	out := append([]string{id}, items...)
	if len(out) > cap {
		out = out[:cap]
	}
	return out
}

// CompleteResult carries a successful sponsorship's outcome.
type CompleteResult struct {
	TxHash        string
	UserOpHash    string
	ActualCostUSD float64
}

// Complete marks a request completed, removes it from processing, and
// prepends it to the capped completed list.
func (q *Queue) Complete(ctx context.Context, id string, result CompleteResult) {
	req, ok := q.loadRequest(ctx, id)
	if !ok {
		log.Printf("queue: complete called for unknown id %q", id)
		return
	}
	req.Status = StatusCompleted
	req.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	req.TxHash = result.TxHash
	req.UserOpHash = result.UserOpHash
	req.ActualCostUSD = result.ActualCostUSD
	q.saveRequest(ctx, req)

	processing := q.loadList(ctx, listProcessing)
	processing.Items = removeID(processing.Items, id)
	q.saveList(ctx, listProcessing, processing)

	completed := q.loadList(ctx, listCompleted)
	completed.Items = prependCapped(completed.Items, id, completedFailedCap)
	q.saveList(ctx, listCompleted, completed)
}

// Fail removes id from processing. If retryable and the request has
// retries remaining, it is reset to pending with an incremented
// RetryCount; otherwise it is marked failed and prepended to the capped
// failed list.
func (q *Queue) Fail(ctx context.Context, id, errMsg string, retryable bool) {
	req, ok := q.loadRequest(ctx, id)
	if !ok {
		log.Printf("queue: fail called for unknown id %q", id)
		return
	}

	processing := q.loadList(ctx, listProcessing)
	processing.Items = removeID(processing.Items, id)
	q.saveList(ctx, listProcessing, processing)

	req.Error = errMsg
	if retryable && req.RetryCount < req.MaxRetries {
		req.RetryCount++
		req.Status = StatusPending
		q.saveRequest(ctx, req)

		pending := q.loadList(ctx, listPending)
		pending.Items = append(pending.Items, id)
		q.saveList(ctx, listPending, pending)
		return
	}

	req.Status = StatusFailed
	req.FailedAt = time.Now().UTC().Format(time.RFC3339)
	q.saveRequest(ctx, req)

	failed := q.loadList(ctx, listFailed)
	failed.Items = prependCapped(failed.Items, id, completedFailedCap)
	q.saveList(ctx, listFailed, failed)
}

// Reject marks a request terminally rejected (policy failure, not a
// transient error) and moves it to the failed list; never retried.
func (q *Queue) Reject(ctx context.Context, id, reason string) {
	q.Fail(ctx, id, "Rejected: "+reason, false)
	if req, ok := q.loadRequest(ctx, id); ok {
		req.Status = StatusRejected
		q.saveRequest(ctx, req)
	}
}

// GetStatus returns the request record, or ok=false if unknown/expired.
func (q *Queue) GetStatus(ctx context.Context, id string) (Request, bool) {
	return q.loadRequest(ctx, id)
}

// GetStats returns the lengths of the four lists.
func (q *Queue) GetStats(ctx context.Context) Stats {
	return Stats{
		Pending:    len(q.loadList(ctx, listPending).Items),
		Processing: len(q.loadList(ctx, listProcessing).Items),
		Completed:  len(q.loadList(ctx, listCompleted).Items),
		Failed:     len(q.loadList(ctx, listFailed).Items),
	}
}

// RecoverStaleRequests scans the processing list for ids whose backing
// record is gone (dropped) or whose processing started more than 5 minutes
// ago (recovered to pending with an incremented retry count, or failed if
// retries are exhausted).
func (q *Queue) RecoverStaleRequests(ctx context.Context) {
	if !q.acquireLock(ctx, false) {
		return
	}
	defer q.releaseLock(ctx)

	processing := q.loadList(ctx, listProcessing)
	now := time.Now()
	remaining := processing.Items[:0:0]

	for _, id := range processing.Items {
		req, ok := q.loadRequest(ctx, id)
		if !ok {
			log.Printf("queue: dropping stale processing id %q with no backing record", id)
			continue
		}
		startedAt, err := time.Parse(time.RFC3339, req.ProcessingStartedAt)
		if err != nil || now.Sub(startedAt) <= staleThreshold {
			remaining = append(remaining, id)
			continue
		}

		if req.RetryCount < req.MaxRetries {
			req.RetryCount++
			req.Status = StatusPending
			req.Error = "Processing timeout - recovered"
			q.saveRequest(ctx, req)
			pending := q.loadList(ctx, listPending)
			pending.Items = append(pending.Items, id)
			q.saveList(ctx, listPending, pending)
		} else {
			req.Status = StatusFailed
			req.FailedAt = now.UTC().Format(time.RFC3339)
			req.Error = "Processing timeout - recovered"
			q.saveRequest(ctx, req)
			failed := q.loadList(ctx, listFailed)
			failed.Items = prependCapped(failed.Items, id, completedFailedCap)
			q.saveList(ctx, listFailed, failed)
		}
	}

	processing.Items = remaining
	q.saveList(ctx, listProcessing, processing)
}
