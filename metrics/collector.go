package metrics

import (
	"fmt"
	"sync"
	"time"
)

const (
	maxRecentEvents = 20
	maxRatePoints   = 60
)

type Collector struct {
	PacketsProcessed uint64            `json:"packets_processed"`
	BytesProcessed   uint64            `json:"bytes_processed"`
	ProtocolDist     map[string]uint64 `json:"protocol_dist"`
	DevicesSeen      int               `json:"devices_seen"`
	Uploads          uint64            `json:"uploads"`
	UploadFailures   uint64            `json:"upload_failures"`
	CurrentPPS       float64           `json:"current_pps"`

	PacketRate   []TimeSeriesPoint `json:"packet_rate"`
	StartTime    time.Time         `json:"start_time"`
	Uptime       string            `json:"uptime"`
	WorkerStatus []WorkerHealth    `json:"worker_status"`
	RecentEvents []SystemEvent     `json:"recent_events"`

	mu              sync.RWMutex
	lastUpdate      time.Time
	lastPacketCount uint64
}

type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type WorkerHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type SystemEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

const (
	WorkerRunning = "running"
	WorkerStopped = "stopped"
	WorkerFailed  = "failed"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// GetCollector returns the process-wide collector and starts its rate loop.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = NewCollector()
		go collector.updateLoop()
	})
	return collector
}

// NewCollector returns a standalone collector without a background loop.
func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		StartTime:    now,
		ProtocolDist: make(map[string]uint64),
		PacketRate:   make([]TimeSeriesPoint, 0, maxRatePoints),
		RecentEvents: make([]SystemEvent, 0, maxRecentEvents),
		WorkerStatus: make([]WorkerHealth, 0),
		lastUpdate:   now,
	}
}

func (m *Collector) updateLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.updateRates(time.Now())
	}
}

func (m *Collector) updateRates(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := now.Sub(m.lastUpdate).Seconds()
	if duration <= 0 {
		return
	}

	m.CurrentPPS = float64(m.PacketsProcessed-m.lastPacketCount) / duration
	m.PacketRate = append(m.PacketRate, TimeSeriesPoint{Timestamp: now.UnixMilli(), Value: m.CurrentPPS})
	if len(m.PacketRate) > maxRatePoints {
		m.PacketRate = m.PacketRate[len(m.PacketRate)-maxRatePoints:]
	}

	m.lastUpdate = now
	m.lastPacketCount = m.PacketsProcessed
	m.Uptime = formatDuration(now.Sub(m.StartTime))
}

func (m *Collector) RecordPacket(protocol string, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PacketsProcessed++
	m.BytesProcessed += bytes
	if protocol != "" {
		m.ProtocolDist[protocol]++
	}
}

func (m *Collector) SetDevicesSeen(n int) {
	m.mu.Lock()
	m.DevicesSeen = n
	m.mu.Unlock()
}

func (m *Collector) RecordUpload(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.UploadFailures++
		return
	}
	m.Uploads++
}

func (m *Collector) RecordEvent(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event := SystemEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	m.RecentEvents = append([]SystemEvent{event}, m.RecentEvents...)
	if len(m.RecentEvents) > maxRecentEvents {
		m.RecentEvents = m.RecentEvents[:maxRecentEvents]
	}
}

// WorkerStarted registers name as running.
func (m *Collector) WorkerStarted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.workerLocked(name)
	h.Status = WorkerRunning
	h.StartedAt = time.Now()
	h.StoppedAt = time.Time{}
	h.LastError = ""
}

// WorkerExited records a worker's termination; err may be nil.
func (m *Collector) WorkerExited(name string, err error) {
	m.mu.Lock()
	h := m.workerLocked(name)
	h.StoppedAt = time.Now()
	h.Status = WorkerStopped
	if err != nil {
		h.Status = WorkerFailed
		h.LastError = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		m.RecordEvent("error", fmt.Sprintf("worker %s exited: %v", name, err))
	} else {
		m.RecordEvent("info", fmt.Sprintf("worker %s stopped", name))
	}
}

func (m *Collector) workerLocked(name string) *WorkerHealth {
	for i := range m.WorkerStatus {
		if m.WorkerStatus[i].Name == name {
			return &m.WorkerStatus[i]
		}
	}
	m.WorkerStatus = append(m.WorkerStatus, WorkerHealth{Name: name})
	return &m.WorkerStatus[len(m.WorkerStatus)-1]
}

func (m *Collector) GetSnapshot() *Collector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &Collector{
		PacketsProcessed: m.PacketsProcessed,
		BytesProcessed:   m.BytesProcessed,
		DevicesSeen:      m.DevicesSeen,
		Uploads:          m.Uploads,
		UploadFailures:   m.UploadFailures,
		CurrentPPS:       m.CurrentPPS,
		StartTime:        m.StartTime,
		Uptime:           formatDuration(time.Since(m.StartTime)),
		ProtocolDist:     make(map[string]uint64, len(m.ProtocolDist)),
		PacketRate:       append([]TimeSeriesPoint{}, m.PacketRate...),
		WorkerStatus:     append([]WorkerHealth{}, m.WorkerStatus...),
		RecentEvents:     append([]SystemEvent{}, m.RecentEvents...),
	}
	for k, v := range m.ProtocolDist {
		snapshot.ProtocolDist[k] = v
	}
	return snapshot
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
