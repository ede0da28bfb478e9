// Package scheduler runs a list of tasks with a bounded number of
// workers and cooperative cancellation.
package scheduler

import (
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work. Any state it needs is captured by the closure.
type Task func() error

// Outcome is the result of one Task
type Outcome struct {
	Err     error // error returned by the task
	Skipped bool  // the task was never started because of cancellation
}

// Run executes tasks using at most limit concurrently and returns one
// Outcome per task in the same order as tasks, whatever order they
// finished in.
//
// Tasks are started in index order. tok is checked before each task is
// handed to the pool and again just before it starts. Once tok is
// cancelled no further task is started, but tasks already running are
// left to finish and their outcome is kept. A failing task does not
// stop the others - it is up to the caller to cancel tok if a failure
// should end the batch.
//
// tok may be nil in which case the batch can't be cancelled.
func Run(tasks []Task, limit int, tok *Token) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}
	for i := range outcomes {
		outcomes[i].Skipped = true
	}
	if limit < 1 {
		limit = 1
	}
	cancelled := func() bool {
		return tok != nil && tok.Cancelled()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range tasks {
		if cancelled() {
			break
		}
		i := i
		// blocks while limit tasks are running
		g.Go(func() error {
			if cancelled() {
				return nil
			}
			// each index is run by exactly one goroutine so no lock is needed
			outcomes[i] = Outcome{Err: tasks[i]()}
			return nil
		})
	}
	// task errors are kept in outcomes rather than returned to the group
	_ = g.Wait()
	return outcomes
}

// FirstError returns the error of the lowest indexed task that failed,
// or nil if none did.
func FirstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// Started returns the number of tasks which were started
func Started(outcomes []Outcome) (n int) {
	for _, o := range outcomes {
		if !o.Skipped {
			n++
		}
	}
	return n
}
