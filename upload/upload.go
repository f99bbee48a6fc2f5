// Package upload periodically drains the packet processor and posts the
// result to the submit URL. MAC addresses never leave the host; devices are
// identified by a keyed hash of their MAC.
package upload

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/metrics"
	"github.com/iotinspector/inspector/packet"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"
)

// finalTimeout bounds the last upload attempted during shutdown.
const finalTimeout = 3 * time.Second

type Source interface {
	Drain() packet.Report
	Requeue(packet.Report)
}

type Config struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Compress bool
}

type Worker struct {
	src     Source
	userKey string
	hasher  *Hasher
	cfg     Config
	client  *http.Client
	metrics *metrics.Collector
}

func New(st *hoststate.State, cfg Config) (*Worker, error) {
	h, err := NewHasher(st.Identity().SecretSalt)
	if err != nil {
		return nil, err
	}
	return &Worker{
		src:     st.Processor(),
		userKey: st.Identity().UserKey,
		hasher:  h,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.GetCollector(),
	}, nil
}

func (w *Worker) Name() string { return "upload" }

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalTimeout)
			w.once(fctx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			w.once(ctx)
		}
	}
}

func (w *Worker) once(ctx context.Context) {
	r := w.src.Drain()
	p := BuildPayload(w.userKey, r, w.hasher)
	if p.empty() {
		return
	}
	err := w.post(ctx, p)
	if w.metrics != nil {
		w.metrics.RecordUpload(err)
	}
	if err != nil {
		log.Tracef("Upload failed, keeping %d flows for the next attempt: %v", len(r.Flows), err)
		w.src.Requeue(r)
		return
	}
	log.Tracef("Uploaded %d flows, %d dns records for %d devices", len(p.Flows), len(p.DNS), len(p.Devices))
}

func (w *Worker) post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	var rd io.Reader = bytes.NewReader(body)
	if w.cfg.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		rd = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("submit: %s", resp.Status)
	}
	return nil
}

// Hasher derives stable, per-installation device identifiers.
type Hasher struct {
	key []byte
}

// NewHasher keys the hash with salt, hex-decoded when possible. blake2b
// accepts at most 64 key bytes; longer salts are truncated.
func NewHasher(salt string) (*Hasher, error) {
	if salt == "" {
		return nil, fmt.Errorf("empty secret salt")
	}
	key, err := hex.DecodeString(salt)
	if err != nil {
		key = []byte(salt)
	}
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	return &Hasher{key: key}, nil
}

// DeviceID is "s" followed by the first ten hex digits of the keyed hash.
func (h *Hasher) DeviceID(mac string) string {
	d, err := blake2b.New256(h.key)
	if err != nil {
		// key length is checked in NewHasher
		panic(err)
	}
	d.Write([]byte(mac))
	return "s" + hex.EncodeToString(d.Sum(nil))[:10]
}
