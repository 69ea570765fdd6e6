package service

import (
	"context"
	"sync"
)

// Task is the observable handle of a background workflow run. The caller
// that triggered the workflow (or a supervising scheduler) is responsible
// for observing its outcome; the workflow itself only persists status
// rows.
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// complete records the terminal outcome. Subsequent calls are no-ops.
func (t *Task) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done returns a channel closed when the workflow has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the workflow outcome. Only meaningful once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the workflow finishes or the context expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}
