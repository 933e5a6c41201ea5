package services

import (
	"context"
	"sync"
	"time"

	"rebate/internal/repositories"
	"rebate/pkg/utils"
)

// CapGuard gates how many automatic approvals may happen per calendar day.
type CapGuard interface {
	TryReserveSlot(ctx context.Context) (bool, error)
}

// MemoryCapGuard is a per-process counter with lazy day rollover. With N
// instances the effective cap is N*max; use StoreCapGuard when scaled out.
type MemoryCapGuard struct {
	mu    sync.Mutex
	max   int
	loc   *time.Location
	now   func() time.Time
	day   string
	count int
}

func NewMemoryCapGuard(max int, loc *time.Location, now func() time.Time) *MemoryCapGuard {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryCapGuard{max: max, loc: loc, now: now}
}

func (g *MemoryCapGuard) TryReserveSlot(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := utils.DayKey(g.now(), g.loc)
	if today != g.day {
		g.day = today
		g.count = 0
	}
	if g.count >= g.max {
		return false, nil
	}
	g.count++
	return true, nil
}

// StoreCapGuard keeps the counter in the shared store, bucketed by day, so
// every instance draws from one ceiling.
type StoreCapGuard struct {
	counters repositories.DailyCounterRepository
	max      int
	loc      *time.Location
	now      func() time.Time
}

func NewStoreCapGuard(counters repositories.DailyCounterRepository, max int, loc *time.Location, now func() time.Time) *StoreCapGuard {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &StoreCapGuard{counters: counters, max: max, loc: loc, now: now}
}

func (g *StoreCapGuard) TryReserveSlot(ctx context.Context) (bool, error) {
	return g.counters.IncrementIfBelow(ctx, utils.DayKey(g.now(), g.loc), g.max)
}
