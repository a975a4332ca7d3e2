// Package pool runs independent tasks on a bounded set of goroutines and
// funnels their progress to a single logging coordinator.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Kind int

const (
	Started Kind = iota
	Progress
	Done
	Failed
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one progress report from a task.
type Event struct {
	Task    int
	Stage   string
	Message string
	Kind    Kind
}

// Reporter sends events for one task. Sends never block: when the
// coordinator is behind, the event is dropped. The zero Reporter discards
// everything.
type Reporter struct {
	task    int
	ch      chan<- Event
	dropped *atomic.Int64
}

func (r Reporter) send(e Event) {
	e.Task = r.task
	select {
	case r.ch <- e:
	default:
		if r.dropped != nil {
			r.dropped.Add(1)
		}
	}
}

// Report publishes a progress line for stage.
func (r Reporter) Report(stage, msg string) {
	r.send(Event{Stage: stage, Message: msg, Kind: Progress})
}

func (r Reporter) Task() int { return r.task }

// Task is one unit of work. It must honor ctx cancellation.
type Task[T any] func(ctx context.Context, r Reporter) (T, error)

type Options struct {
	// Workers bounds concurrency; zero or less means one per task.
	Workers int
	// Buffer is the event channel capacity.
	Buffer int
	// Name labels log lines.
	Name string
}

// Run executes tasks concurrently and returns their results in task order.
// The first failure cancels the context passed to the remaining tasks and
// is the error returned.
func Run[T any](ctx context.Context, tasks []Task[T], opts Options) ([]T, error) {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16 * len(tasks)
	}

	events := make(chan Event, opts.Buffer)
	var dropped atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Coordinate(events, logrus.WithField("stage", opts.Name))
	}()

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, task := range tasks {
		r := Reporter{task: i, ch: events, dropped: &dropped}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.send(Event{Kind: Started})
			v, err := task(gctx, r)
			if err != nil {
				r.send(Event{Kind: Failed, Message: err.Error()})
				return fmt.Errorf("task %d: %w", i, err)
			}
			results[i] = v
			r.send(Event{Kind: Done})
			return nil
		})
	}
	err := g.Wait()
	close(events)
	wg.Wait()

	if n := dropped.Load(); n > 0 {
		logrus.WithField("stage", opts.Name).Debugf("[!] %d progress events dropped", n)
	}
	return results, err
}

// Coordinate renders events until the channel is closed, keeping the latest
// status per task.
func Coordinate(events <-chan Event, log *logrus.Entry) map[int]Event {
	latest := make(map[int]Event)
	for e := range events {
		latest[e.Task] = e
		entry := log.WithField("task", e.Task)
		if e.Stage != "" {
			entry = entry.WithField("step", e.Stage)
		}
		switch e.Kind {
		case Started:
			entry.Debug("[*] started")
		case Progress:
			entry.Info("[>] " + e.Message)
		case Done:
			entry.Info("[+] done")
		case Failed:
			entry.Error("[!] " + e.Message)
		}
	}
	return latest
}
