package inspector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/metrics"
	"golang.org/x/sync/errgroup"
)

// Group supervises launched workers. A worker that exits is logged and
// recorded, never restarted.
type Group struct {
	eg      errgroup.Group
	metrics *metrics.Collector

	mu      sync.Mutex
	started []string
	exits   map[string]error
}

func newGroup(m *metrics.Collector) *Group {
	return &Group{metrics: m, exits: make(map[string]error)}
}

// Go starts w in its own goroutine and returns immediately.
func (g *Group) Go(ctx context.Context, w Worker) {
	name := w.Name()

	g.mu.Lock()
	g.started = append(g.started, name)
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.WorkerStarted(name)
	}
	log.Tracef("Starting worker %s", name)

	// Exits are recorded per worker; the group itself never fails.
	g.eg.Go(func() error {
		g.exited(ctx, name, runGuarded(ctx, w))
		return nil
	})
}

func runGuarded(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("Worker %s panic stack:\n%s", w.Name(), debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Run(ctx)
}

func (g *Group) exited(ctx context.Context, name string, err error) {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	g.mu.Lock()
	g.exits[name] = err
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.WorkerExited(name, err)
	}

	switch {
	case err != nil:
		log.Errorf("Worker %s exited: %v", name, err)
	case ctx.Err() == nil:
		log.Warnf("Worker %s returned before shutdown", name)
	default:
		log.Infof("Worker %s stopped", name)
	}
}

// Started lists worker names in the order they were started.
func (g *Group) Started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

// Exited reports the workers that have returned and their errors.
func (g *Group) Exited() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error, len(g.exits))
	for k, v := range g.exits {
		out[k] = v
	}
	return out
}

func (g *Group) Wait() { _ = g.eg.Wait() }

// WaitTimeout waits at most d and reports whether every worker returned.
func (g *Group) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
