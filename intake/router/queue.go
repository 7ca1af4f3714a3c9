package router

import (
	"container/list"
	"context"
	"sync"
)

// userQueue serializes work per user in arrival order. Each user has at most
// one holder; later callers wait in a FIFO list and receive ownership directly
// from the previous holder.
type userQueue struct {
	mu    sync.Mutex
	users map[int64]*turns
}

type turns struct {
	waiting *list.List // of chan struct{}
}

func newUserQueue() *userQueue {
	return &userQueue{users: make(map[int64]*turns)}
}

// acquire blocks until the caller owns the user's turn or ctx is done.
func (q *userQueue) acquire(ctx context.Context, userID int64) (release func(), err error) {
	q.mu.Lock()
	t, busy := q.users[userID]
	if !busy {
		q.users[userID] = &turns{waiting: list.New()}
		q.mu.Unlock()
		return func() { q.release(userID) }, nil
	}
	ch := make(chan struct{})
	el := t.waiting.PushBack(ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return func() { q.release(userID) }, nil
	case <-ctx.Done():
		q.mu.Lock()
		select {
		case <-ch:
			// Ownership was handed over while cancelling; pass it on.
			q.mu.Unlock()
			q.release(userID)
		default:
			t.waiting.Remove(el)
			q.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (q *userQueue) release(userID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.users[userID]
	if !ok {
		return
	}
	front := t.waiting.Front()
	if front == nil {
		delete(q.users, userID)
		return
	}
	t.waiting.Remove(front)
	close(front.Value.(chan struct{}))
}

// pending reports how many users currently hold or wait for a turn.
func (q *userQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.users)
}
