package ratelimit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"aegis/internal/statestore"
)

// PostBudgetKey is the single State Store key the monthly post-budget
// state lives at.
const PostBudgetKey = "social:post:monthly:usage"

// PostCategory is the closed set of transparency-post categories.
type PostCategory string

const (
	CategoryProof     PostCategory = "proof"
	CategoryStats     PostCategory = "stats"
	CategoryHealth    PostCategory = "health"
	CategoryEmergency PostCategory = "emergency" // bypasses all caps
)

const monthlyTotalCap = 1000

// DefaultCategoryBudgets are the per-category monthly budgets from spec
// §4.9. Emergency's budget is advisory only; it never blocks.
var DefaultCategoryBudgets = map[PostCategory]int{
	CategoryProof:  740,
	CategoryStats:  30,
	CategoryHealth: 180,
	CategoryEmergency: 50,
}

// postBudgetState is the persisted monthly counter record.
type postBudgetState struct {
	Month     string                 `json:"month"` // YYYY-MM
	Used      map[PostCategory]int   `json:"used"`
	Total     int                    `json:"total"`
	LastReset string                 `json:"lastReset"`
}

// PostLimiter enforces the monthly transparency-post budget, partitioned by
// category, with the emergency category bypassing all caps (spec §4.9).
type PostLimiter struct {
	store    statestore.Store
	budgets  map[PostCategory]int
	totalCap int
	now      func() time.Time
}

// NewPostLimiter constructs a limiter with the default category budgets.
func NewPostLimiter(store statestore.Store) *PostLimiter {
	budgets := make(map[PostCategory]int, len(DefaultCategoryBudgets))
	for k, v := range DefaultCategoryBudgets {
		budgets[k] = v
	}
	return &PostLimiter{store: store, budgets: budgets, totalCap: monthlyTotalCap, now: time.Now}
}

func currentMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (p *PostLimiter) load(ctx context.Context) postBudgetState {
	state := postBudgetState{Month: currentMonth(p.now()), Used: map[PostCategory]int{}}
	raw, ok := p.store.Get(ctx, PostBudgetKey)
	if ok {
		if err := json.Unmarshal(raw, &state); err != nil {
			log.Printf("ratelimit: corrupt post-budget state, resetting: %v", err)
			state = postBudgetState{Month: currentMonth(p.now()), Used: map[PostCategory]int{}}
		}
	}
	if state.Used == nil {
		state.Used = map[PostCategory]int{}
	}
	month := currentMonth(p.now())
	if state.Month != month {
		// Calendar rollover: reset in place (idempotent — a second check on
		// the same new month is a no-op since Month now matches).
		state = postBudgetState{Month: month, Used: map[PostCategory]int{}, LastReset: p.now().UTC().Format(time.RFC3339)}
		p.persist(ctx, state)
	}
	return state
}

func (p *PostLimiter) persist(ctx context.Context, state postBudgetState) {
	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("ratelimit: failed to marshal post-budget state: %v", err)
		return
	}
	p.store.Set(ctx, PostBudgetKey, raw, 0)
}

// Allow reports whether a post in category would currently be permitted,
// without consuming budget.
func (p *PostLimiter) Allow(ctx context.Context, category PostCategory) bool {
	if category == CategoryEmergency {
		return true
	}
	state := p.load(ctx)
	if state.Total >= p.totalCap {
		return false
	}
	budget, ok := p.budgets[category]
	if !ok {
		return false
	}
	return state.Used[category] < budget
}

// Consume records one post in category, if allowed. It returns false
// without mutating state if the category or total cap is exhausted.
// Emergency posts always succeed and still increment the advisory counter.
func (p *PostLimiter) Consume(ctx context.Context, category PostCategory) bool {
	state := p.load(ctx)
	if category != CategoryEmergency {
		budget, ok := p.budgets[category]
		if !ok || state.Used[category] >= budget || state.Total >= p.totalCap {
			return false
		}
	}
	state.Used[category]++
	state.Total++
	if state.Total >= int(0.9*float64(p.totalCap)) {
		log.Printf("ratelimit: monthly post budget at %d/%d (90%% threshold)", state.Total, p.totalCap)
	}
	p.persist(ctx, state)
	return true
}
