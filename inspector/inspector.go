// Package inspector starts the workers, in a fixed order, against one shared
// host state and supervises them until the process exits.
package inspector

import (
	"context"
	stdlog "log"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/metrics"
)

// Worker runs until ctx is cancelled or it fails. Run must not return early
// on its own unless it cannot continue.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

type Registration struct {
	Name string
	// Interception marks the ARP interception worker, the only one that
	// --no_spoofing removes.
	Interception bool
	New          func(*hoststate.State) Worker
}

// Order is the start sequence every launch follows.
var Order = []string{"arpscan", "synscan", "ssdp", "capture", "arpspoof", "upload"}

// Launch constructs and starts each registration in order. Construction is
// synchronous; Run is not awaited, so no worker waits on another's progress.
// Skipped interception registrations are never constructed.
func Launch(ctx context.Context, st *hoststate.State, regs []Registration, skipInterception bool) *Group {
	quietThirdParty()

	g := newGroup(metrics.GetCollector())
	for _, reg := range regs {
		if reg.Interception && skipInterception {
			log.Infof("Skipping %s (spoofing disabled)", reg.Name)
			continue
		}
		w := reg.New(st)
		if w == nil {
			log.Warnf("Worker %s has nothing to run", reg.Name)
			continue
		}
		g.Go(ctx, w)
	}
	log.Infof("Started %d workers: %v", len(g.Started()), g.Started())
	return g
}

// quietThirdParty routes the standard logger, which libraries write to
// directly, through the error-only filter.
func quietThirdParty() {
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Quiet("lib").Writer())
}
