package sock

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/iotinspector/inspector/log"
)

var ErrClosed = errors.New("sender closed")

// Writer is anything that puts a raw frame on the wire, such as a pcap handle.
type Writer interface {
	WritePacketData(data []byte) error
}

// Sender serializes writes from every worker onto one handle. The handle is
// opened on first use so a missing capture device only fails the workers
// that inject.
type Sender struct {
	open func() (Writer, error)

	mu     sync.Mutex
	w      Writer
	sent   uint64
	closed bool
}

func NewSender(open func() (Writer, error)) *Sender {
	return &Sender{open: open}
}

func (s *Sender) writer() (Writer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.w != nil {
		return s.w, nil
	}
	w, err := s.open()
	if err != nil {
		return nil, log.Errorf("open injection handle: %v", err)
	}
	s.w = w
	return w, nil
}

func (s *Sender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer()
	if err != nil {
		return err
	}
	if err := w.WritePacketData(frame); err != nil {
		return err
	}
	s.sent++
	return nil
}

func (s *Sender) SendARP(a ARP) error {
	frame, err := a.Bytes()
	if err != nil {
		return err
	}
	log.Tracef("ARP op=%d %s is-at %s -> %s", a.Op, a.SenderIP, a.SenderMAC, a.TargetIP)
	return s.Send(frame)
}

func (s *Sender) SendSYN(p SYN) error {
	frame, err := p.Bytes()
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// Sent is the number of frames written so far.
func (s *Sender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Close closes the handle if it was opened and supports closing. Later sends
// fail with ErrClosed instead of reopening it.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if c, ok := s.w.(interface{ Close() }); ok {
		c.Close()
	}
	s.w = nil
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// RandomPort is an ephemeral source port for probes.
func RandomPort() uint16 {
	return uint16(32768 + randomUint32()%28232)
}

func RandomSeq() uint32 {
	return randomUint32()
}
