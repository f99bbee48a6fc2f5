// Package forwarding toggles kernel IP forwarding, which ARP interception
// needs so redirected traffic still reaches its real destination.
package forwarding

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/iotinspector/inspector/log"
)

type Platform int

const (
	PlatformUnknown Platform = iota
	PlatformBSD
	PlatformLinux
	PlatformWindows
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

func (p Platform) String() string {
	switch p {
	case PlatformBSD:
		return "bsd"
	case PlatformLinux:
		return "linux"
	case PlatformWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// PlatformFor maps a GOOS value onto one of the supported families.
func PlatformFor(goos string) (Platform, error) {
	switch goos {
	case "darwin", "freebsd", "openbsd", "netbsd", "dragonfly":
		return PlatformBSD, nil
	case "linux", "android":
		return PlatformLinux, nil
	case "windows":
		return PlatformWindows, nil
	default:
		return PlatformUnknown, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// Command returns the single privileged command that switches forwarding for p.
func Command(p Platform, enabled bool) ([]string, error) {
	bit := "0"
	state := "Disabled"
	if enabled {
		bit = "1"
		state = "Enabled"
	}

	switch p {
	case PlatformBSD:
		return []string{"/usr/sbin/sysctl", "-w", "net.inet.ip.forwarding=" + bit}, nil
	case PlatformLinux:
		return []string{"sysctl", "-w", "net.ipv4.ip_forward=" + bit}, nil
	case PlatformWindows:
		return []string{"powershell", "Set-NetIPInterface", "-Forwarding", state}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
}

// Runner executes a command and returns its combined output. A non-zero exit
// status must be reported as an error.
type Runner func(args ...string) (string, error)

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// StateReader reports whether forwarding is currently on.
type StateReader func(Platform) (bool, error)

type Adapter struct {
	platform Platform
	run      Runner
	read     StateReader
}

// New returns an adapter for the running OS. An unsupported OS is not an
// error until the adapter is used.
func New() *Adapter {
	p, _ := PlatformFor(runtime.GOOS)
	return &Adapter{platform: p, run: run, read: readState}
}

func NewWithRunner(p Platform, r Runner) *Adapter {
	return NewWithState(p, r, nil)
}

// NewWithState also replaces how the current setting is read.
func NewWithState(p Platform, r Runner, read StateReader) *Adapter {
	if r == nil {
		r = run
	}
	if read == nil {
		read = readState
	}
	return &Adapter{platform: p, run: r, read: read}
}

func (a *Adapter) Platform() Platform { return a.platform }

// SetIPForwarding runs the platform command once. Any failure, including a
// non-zero exit, is returned; callers treat it as fatal.
func (a *Adapter) SetIPForwarding(enabled bool) error {
	cmd, err := Command(a.platform, enabled)
	if err != nil {
		return err
	}

	log.Tracef("Forwarding: %s", strings.Join(cmd, " "))
	out, err := a.run(cmd...)
	if err != nil {
		out = strings.TrimSpace(out)
		if out != "" {
			return fmt.Errorf("set ip forwarding=%v: %w (%s)", enabled, err, out)
		}
		return fmt.Errorf("set ip forwarding=%v: %w", enabled, err)
	}
	log.Infof("IP forwarding %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return nil
}

// Enabled reports the current kernel setting where it can be read cheaply.
func (a *Adapter) Enabled() (bool, error) {
	return a.read(a.platform)
}
