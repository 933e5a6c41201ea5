package memory

import (
	"context"
	"sync"

	"rebate/internal/repositories"
)

// DailyCounterRepository is the in-process stand-in for the day-bucketed
// counter table.
type DailyCounterRepository struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewDailyCounterRepository() *DailyCounterRepository {
	return &DailyCounterRepository{counts: make(map[string]int)}
}

var _ repositories.DailyCounterRepository = (*DailyCounterRepository)(nil)

func (r *DailyCounterRepository) IncrementIfBelow(ctx context.Context, day string, max int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[day] >= max {
		return false, nil
	}
	r.counts[day]++
	return true, nil
}

func (r *DailyCounterRepository) Count(day string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[day]
}
