package log

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum level that will be emitted.
type Level int32

const (
	LevelError Level = iota
	LevelInfo
	LevelTrace
	LevelDebug
)

// LevelSilent suppresses everything, errors included.
const LevelSilent Level = -1

var CurLevel atomic.Int32

// fanout writes every line to all attached sinks (stderr, syslog, ...).
type fanout struct {
	mu    sync.Mutex
	sinks []io.Writer
}

func (f *fanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.sinks {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

var (
	mu      sync.Mutex
	base    = &fanout{sinks: []io.Writer{os.Stderr}}
	buf     *bufio.Writer
	logger  *log.Logger
	flusher *time.Ticker
	stopped chan struct{}
	// running flusher goroutines
	flushers atomic.Int32
	insta    bool

	errMu     sync.Mutex
	errFile   *os.File
	errLogger *log.Logger
)

func init() {
	CurLevel.Store(int32(LevelInfo))
}

// Init sets the primary sink, the level and the flushing mode.
func Init(w io.Writer, level Level, instaflush bool) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	base.mu.Lock()
	base.sinks = []io.Writer{w}
	base.mu.Unlock()
	insta = instaflush
	CurLevel.Store(int32(level))
	rebuildLocked()
}

// AttachSink adds an extra destination for every emitted line.
func AttachSink(w io.Writer) {
	if w == nil {
		return
	}
	base.mu.Lock()
	base.sinks = append(base.sinks, w)
	base.mu.Unlock()
}

func SetLevel(l Level) { CurLevel.Store(int32(l)) }

func Enabled(l Level) bool { return Level(CurLevel.Load()) >= l }

// Flush forces buffered output out.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if buf != nil {
		_ = buf.Flush()
	}
}

// InitErrorFile mirrors every error line into path.
func InitErrorFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	errMu.Lock()
	errFile = f
	errLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	errMu.Unlock()
	return nil
}

func CloseErrorFile() {
	errMu.Lock()
	defer errMu.Unlock()
	if errFile != nil {
		_ = errFile.Sync()
		_ = errFile.Close()
		errFile = nil
		errLogger = nil
	}
}

// Errorf logs at error level and returns the formatted error so call sites
// can write `return log.Errorf(...)`.
func Errorf(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if Enabled(LevelError) {
		out("[ERROR] %s", err.Error())
	}

	errMu.Lock()
	if errLogger != nil {
		errLogger.Println("[ERROR] " + err.Error())
	}
	errMu.Unlock()

	return err
}

func Warnf(format string, a ...any) {
	if Enabled(LevelError) {
		out("[WARN] "+format, a...)
	}
}

func Infof(format string, a ...any) {
	if Enabled(LevelInfo) {
		out("[INFO] "+format, a...)
	}
}

func Tracef(format string, a ...any) {
	if Enabled(LevelTrace) {
		out("[TRACE] "+format, a...)
	}
}

func Debugf(format string, a ...any) {
	if Enabled(LevelDebug) {
		out("[DEBUG] "+format, a...)
	}
}

func out(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		rebuildLocked()
	}
	logger.Printf(format, a...)
}

func rebuildLocked() {
	stopFlusherLocked()
	if insta {
		buf = nil
		logger = log.New(base, "", log.Ldate|log.Ltime|log.Lmicroseconds)
		return
	}

	buf = bufio.NewWriterSize(base, 16*1024)
	logger = log.New(buf, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	flusher = time.NewTicker(2 * time.Second)
	stopped = make(chan struct{})
	flushers.Add(1)
	go func(t *time.Ticker, stop <-chan struct{}) {
		defer flushers.Add(-1)
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				Flush()
			}
		}
	}(flusher, stopped)
}

func stopFlusherLocked() {
	if flusher != nil {
		flusher.Stop()
		close(stopped)
		flusher = nil
		stopped = nil
	}
}

// quietWriter forwards only lines that look like errors.
type quietWriter struct {
	component string
}

var errorMarkers = [][]byte{[]byte("error"), []byte("Error"), []byte("ERROR"), []byte("panic")}

func (q quietWriter) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	for _, m := range errorMarkers {
		if bytes.Contains(line, m) {
			Errorf("[%s] %s", q.component, line)
			return len(p), nil
		}
	}
	Debugf("[%s] %s", q.component, line)
	return len(p), nil
}

// Quiet returns a standard logger for third-party code (http.Server.ErrorLog
// and the like). Its chatter is demoted to debug; only error lines surface.
func Quiet(component string) *log.Logger {
	return log.New(quietWriter{component: component}, "", 0)
}
