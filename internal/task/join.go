package task

import (
	"context"
	"sync"
)

// JoinAll calls resolve once every item has completed. The first item to
// fail calls reject and every later failure is ignored. With no items
// resolve runs synchronously. Either callback may be nil.
func JoinAll(items []Schedulable, resolve func(), reject func(error)) {
	if len(items) == 0 {
		if resolve != nil {
			resolve()
		}
		return
	}

	var (
		mu        sync.Mutex
		remaining = len(items)
		settled   bool
	)
	onComplete := func() {
		mu.Lock()
		remaining--
		fire := remaining == 0 && !settled
		if fire {
			settled = true
		}
		mu.Unlock()
		if fire && resolve != nil {
			resolve()
		}
	}
	onFail := func(err error) {
		mu.Lock()
		fire := !settled
		settled = true
		mu.Unlock()
		if fire && reject != nil {
			reject(err)
		}
	}
	for _, item := range items {
		item.Join(onComplete, onFail)
	}
}

// Await blocks until item reaches a terminal state or ctx is done. It
// returns nil on success and the failure cause otherwise.
func Await(ctx context.Context, item Schedulable) error {
	return PromiseAll(ctx, []Schedulable{item})
}

// PromiseAll blocks until every item succeeds, the first one fails, or ctx
// is done.
func PromiseAll(ctx context.Context, items []Schedulable) error {
	done := make(chan error, 1)
	JoinAll(items,
		func() { done <- nil },
		func(err error) { done <- err },
	)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
