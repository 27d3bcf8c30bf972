package operation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps pending operations in a map keyed by (UserID, Type)
type MemoryRepository struct {
	mu  sync.Mutex
	ops map[Key]PendingOperation
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ops: make(map[Key]PendingOperation)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, op PendingOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op.ScheduledDate = Day(op.ScheduledDate)
	r.ops[op.Key()] = op
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, key Key) (*PendingOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[key]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (r *MemoryRepository) Update(ctx context.Context, key Key, mutate func(*PendingOperation)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[key]
	if !ok {
		return false, nil
	}
	mutate(&op)
	// the key is not mutable
	op.UserID, op.Type = key.UserID, key.Type
	op.ScheduledDate = Day(op.ScheduledDate)
	r.ops[key] = op
	return true, nil
}

func (r *MemoryRepository) Due(ctx context.Context, t Type, cutoff time.Time) ([]PendingOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff = Day(cutoff)
	var due []PendingOperation
	for _, op := range r.ops {
		if op.Type == t && !op.ScheduledDate.After(cutoff) {
			due = append(due, op)
		}
	}
	sortOperations(due)
	return due, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, keys ...Key) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := r.ops[k]; ok {
			delete(r.ops, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored operations
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// sortOperations orders by date then user so runs are reproducible
func sortOperations(ops []PendingOperation) {
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].ScheduledDate.Equal(ops[j].ScheduledDate) {
			return ops[i].ScheduledDate.Before(ops[j].ScheduledDate)
		}
		return ops[i].UserID < ops[j].UserID
	})
}
