//go:build linux

package forwarding

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadState_Linux(t *testing.T) {
	orig := procIPForward
	t.Cleanup(func() { procIPForward = orig })

	procIPForward = filepath.Join(t.TempDir(), "ip_forward")
	a := NewWithRunner(PlatformLinux, nil)

	for _, tc := range []struct {
		content string
		want    bool
	}{{"1\n", true}, {"0\n", false}} {
		if err := os.WriteFile(procIPForward, []byte(tc.content), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := a.Enabled()
		if err != nil {
			t.Fatalf("Enabled: %v", err)
		}
		if got != tc.want {
			t.Errorf("content %q: got %v, want %v", tc.content, got, tc.want)
		}
	}
}
