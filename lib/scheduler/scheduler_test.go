package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concurrencyProbe records how many tasks are running at once
type concurrencyProbe struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (p *concurrencyProbe) enter() {
	n := p.running.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *concurrencyProbe) leave() {
	p.running.Add(-1)
}

func TestRunEmpty(t *testing.T) {
	outcomes := Run(nil, 10, NewToken())
	assert.Empty(t, outcomes)
}

func TestRunEveryTaskOnceWithinLimit(t *testing.T) {
	for _, test := range []struct {
		n, limit int
	}{
		{1, 1},
		{5, 1},
		{5, 3},
		{3, 10},
		{40, 10},
		{7, 0},
	} {
		t.Run(fmt.Sprintf("n=%d,limit=%d", test.n, test.limit), func(t *testing.T) {
			var probe concurrencyProbe
			counts := make([]atomic.Int32, test.n)
			tasks := make([]Task, test.n)
			for i := range tasks {
				i := i
				tasks[i] = func() error {
					probe.enter()
					defer probe.leave()
					counts[i].Add(1)
					time.Sleep(time.Millisecond)
					return nil
				}
			}
			outcomes := Run(tasks, test.limit, NewToken())
			require.Len(t, outcomes, test.n)
			for i := range counts {
				assert.Equal(t, int32(1), counts[i].Load(), "task %d", i)
				assert.False(t, outcomes[i].Skipped)
				assert.NoError(t, outcomes[i].Err)
			}
			want := max(1, min(test.limit, test.n))
			assert.LessOrEqual(t, int(probe.peak.Load()), want)
		})
	}
}

func TestRunOutcomesInTaskOrder(t *testing.T) {
	const n = 8
	tasks := make([]Task, n)
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			// later tasks finish first
			time.Sleep(time.Duration(n-i) * time.Millisecond)
			if i%2 == 1 {
				return fmt.Errorf("task %d", i)
			}
			return nil
		}
	}
	outcomes := Run(tasks, n, nil)
	for i, o := range outcomes {
		if i%2 == 1 {
			assert.EqualError(t, o.Err, fmt.Sprintf("task %d", i))
		} else {
			assert.NoError(t, o.Err)
		}
	}
	assert.EqualError(t, FirstError(outcomes), "task 1")
}

func TestRunStartsTasksInIndexOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int
	)
	tasks := make([]Task, 6)
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}
	}
	Run(tasks, 1, NewToken())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestRunFailureDoesNotStopOthers(t *testing.T) {
	var ran atomic.Int32
	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			ran.Add(1)
			if i == 2 {
				return errors.New("boom")
			}
			return nil
		}
	}
	outcomes := Run(tasks, 3, NewToken())
	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, 10, Started(outcomes))
	assert.Error(t, outcomes[2].Err)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	tok := NewToken()
	tok.Cancel()
	var ran atomic.Int32
	tasks := []Task{
		func() error { ran.Add(1); return nil },
		func() error { ran.Add(1); return nil },
	}
	outcomes := Run(tasks, 2, tok)
	assert.Equal(t, int32(0), ran.Load())
	for _, o := range outcomes {
		assert.True(t, o.Skipped)
	}
}

func TestRunCancelLetsStartedTasksFinish(t *testing.T) {
	tok := NewToken()
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	var ran atomic.Int32

	tasks := make([]Task, 6)
	for i := range tasks {
		i := i
		tasks[i] = func() error {
			ran.Add(1)
			if i == 0 {
				startedOnce.Do(func() { close(started) })
				<-release
				return errors.New("late result")
			}
			<-release
			return nil
		}
	}

	done := make(chan []Outcome)
	go func() { done <- Run(tasks, 2, tok) }()

	<-started
	tok.Cancel()
	close(release)
	outcomes := <-done

	// task 0 was in flight: it completes and its outcome is kept
	assert.False(t, outcomes[0].Skipped)
	assert.EqualError(t, outcomes[0].Err, "late result")
	// only the two tasks claimed before cancellation can have run
	assert.LessOrEqual(t, ran.Load(), int32(2))
	assert.Equal(t, int(ran.Load()), Started(outcomes))
	for i := 2; i < len(outcomes); i++ {
		assert.True(t, outcomes[i].Skipped, "task %d", i)
	}
}

func TestTokenCancelIdempotent(t *testing.T) {
	tok := NewToken()
	assert.False(t, tok.Cancelled())
	select {
	case <-tok.Done():
		t.Fatal("done closed before cancel")
	default:
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()
	assert.True(t, tok.Cancelled())
	<-tok.Done()
}
