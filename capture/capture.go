package capture

import (
	"context"
	"errors"

	"github.com/google/gopacket"
	"github.com/iotinspector/inspector/config"
	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/packet"
)

var ErrSourceClosed = errors.New("capture source closed")

type Worker struct {
	proc *packet.Processor
	open func() (Source, error)
}

// New captures on the state's interface with cfg's snaplen and filter.
func New(st *hoststate.State, cfg config.CaptureConfig) *Worker {
	iface := st.Network().Interface
	return NewWithSource(st.Processor(), func() (Source, error) {
		return OpenLive(iface, cfg.SnapLen, cfg.Filter)
	})
}

func NewWithSource(proc *packet.Processor, open func() (Source, error)) *Worker {
	return &Worker{proc: proc, open: open}
}

func (w *Worker) Name() string { return "capture" }

func (w *Worker) Run(ctx context.Context) error {
	src, err := w.open()
	if err != nil {
		return err
	}
	if c, ok := src.(interface{ Close() }); ok {
		defer c.Close()
	}

	ps := gopacket.NewPacketSource(src, src.LinkType())
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	packets := ps.Packets()

	var n uint64
	for {
		select {
		case <-ctx.Done():
			log.Infof("Capture stopped after %d packets", n)
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSourceClosed
			}
			n++
			w.proc.Process(pkt)
		}
	}
}
