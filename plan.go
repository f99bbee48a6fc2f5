package main

import (
	"github.com/iotinspector/inspector/arpscan"
	"github.com/iotinspector/inspector/arpspoof"
	"github.com/iotinspector/inspector/capture"
	"github.com/iotinspector/inspector/config"
	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/inspector"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/sock"
	"github.com/iotinspector/inspector/ssdp"
	"github.com/iotinspector/inspector/synscan"
	"github.com/iotinspector/inspector/upload"
)

// plan wires each worker to its settings, in launch order.
func plan(cfg *config.Config, sender *sock.Sender) []inspector.Registration {
	w := cfg.Workers
	return []inspector.Registration{
		{Name: "arpscan", New: func(st *hoststate.State) inspector.Worker {
			return arpscan.New(st, sender, w.ArpScanInterval())
		}},
		{Name: "synscan", New: func(st *hoststate.State) inspector.Worker {
			return synscan.New(st, sender, w.SynScan.Ports, w.SynScanInterval())
		}},
		{Name: "ssdp", New: func(st *hoststate.State) inspector.Worker {
			return ssdp.New(st, w.SSDPInterval(), w.SSDPWait())
		}},
		{Name: "capture", New: func(st *hoststate.State) inspector.Worker {
			return capture.New(st, w.Capture)
		}},
		{Name: "arpspoof", Interception: true, New: func(st *hoststate.State) inspector.Worker {
			return arpspoof.New(st, sender, w.ArpSpoofInterval(), w.ArpSpoof.MaxTargets)
		}},
		{Name: "upload", New: func(st *hoststate.State) inspector.Worker {
			u, err := upload.New(st, upload.Config{
				URL:      cfg.SubmitURLFor(st.Identity().UserKey),
				Interval: w.UploadInterval(),
				Timeout:  cfg.ServerTimeout(),
				Compress: w.Upload.Compress,
			})
			if err != nil {
				log.Errorf("Upload disabled: %v", err)
				return nil
			}
			return u
		}},
	}
}
