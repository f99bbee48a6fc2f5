// Package announce prints the session banner and points a browser at the
// hosted report.
package announce

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/iotinspector/inspector/identity"
	"github.com/iotinspector/inspector/log"
	"golang.org/x/term"
)

const caution = "This is your private link. Open it only on trusted computers."

// PrettyKey groups key into blocks of four separated by "-".
func PrettyKey(key string) string {
	var b strings.Builder
	for i, r := range []rune(key) {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path is the report path for userKey; ephemeral sessions have none.
func Path(userKey string, persistent bool) string {
	if !persistent {
		return ""
	}
	return "persistent/" + PrettyKey(userKey)
}

func Caution(persistent bool) string {
	if !persistent {
		return ""
	}
	return caution
}

func URL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + path
}

func Message(baseURL, path, caution string) string {
	return fmt.Sprintf(`
    ===========================
      Princeton IoT Inspector
    ===========================

    View the IoT Inspector report at:

    %s

    %s

    Hit Control + C to terminate this process and stop data collection.

`, URL(baseURL, path), caution)
}

// Opener launches a browser at url.
type Opener func(url string) error

// Announce writes the banner to w and returns the report URL. Browser
// failures are logged at debug level only.
func Announce(w io.Writer, baseURL string, id identity.HostIdentity, persistent bool, open Opener) string {
	path := Path(id.UserKey, persistent)
	url := URL(baseURL, path)

	if isTerminal(w) {
		fmt.Fprint(w, strings.Repeat("\n", 100))
	}
	fmt.Fprint(w, Message(baseURL, path, Caution(persistent)))

	if open != nil {
		if err := open(url); err != nil {
			log.Debugf("Could not open browser: %v", err)
		}
	}
	return url
}

// isTerminal reports whether w is an interactive terminal, where the banner
// is pushed to the top of a cleared screen.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// BrowserCommand is the command that opens url on goos, or nil where no
// browser is opened.
func BrowserCommand(goos, url string) []string {
	switch goos {
	case "windows":
		return []string{"cmd", "/c", "start", "", url}
	case "darwin":
		return []string{"open", url}
	default:
		return nil
	}
}

// SystemOpener opens the default browser on Windows and macOS and does
// nothing elsewhere.
func SystemOpener(url string) error {
	args := BrowserCommand(runtime.GOOS, url)
	if args == nil {
		return nil
	}
	return exec.Command(args[0], args[1:]...).Start()
}
