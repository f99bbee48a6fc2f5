package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// PeakPPS is the highest packet rate within the recent rate window.
func (m *Collector) PeakPPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peak := 0.0
	for _, p := range m.PacketRate {
		if p.Value > peak {
			peak = p.Value
		}
	}
	return peak
}

// StatusLine is the one-line summary logged periodically while running.
func (m *Collector) StatusLine() string {
	peak := m.PeakPPS()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var running, failed []string
	for _, w := range m.WorkerStatus {
		switch w.Status {
		case WorkerRunning:
			running = append(running, w.Name)
		case WorkerFailed:
			failed = append(failed, w.Name)
		}
	}
	line := fmt.Sprintf("packets=%d (%.1f pps, peak %.1f) devices=%d uploads=%d failed_uploads=%d running=[%s]",
		m.PacketsProcessed, m.CurrentPPS, peak, m.DevicesSeen, m.Uploads, m.UploadFailures,
		strings.Join(running, ","))
	if len(failed) > 0 {
		line += fmt.Sprintf(" failed=[%s]", strings.Join(failed, ","))
	}
	return line
}

// Protocols renders the protocol distribution, busiest first.
func (m *Collector) Protocols() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.ProtocolDist))
	for k := range m.ProtocolDist {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m.ProtocolDist[names[i]], m.ProtocolDist[names[j]]
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, m.ProtocolDist[n])
	}
	return strings.Join(parts, " ")
}

// Report is the multi-line summary logged at shutdown: status, protocols,
// per-worker health and recent error events, oldest first.
func (m *Collector) Report() []string {
	lines := []string{m.StatusLine()}
	if p := m.Protocols(); p != "" {
		lines = append(lines, "protocols: "+p)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.WorkerStatus {
		l := fmt.Sprintf("worker %s: %s", w.Name, w.Status)
		if w.LastError != "" {
			l += " (" + w.LastError + ")"
		}
		lines = append(lines, l)
	}
	for i := len(m.RecentEvents) - 1; i >= 0; i-- {
		if e := m.RecentEvents[i]; e.Level == "error" {
			lines = append(lines, fmt.Sprintf("event %s: %s", e.Timestamp.Format("15:04:05"), e.Message))
		}
	}
	return lines
}
