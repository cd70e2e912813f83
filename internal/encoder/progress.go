// SPDX-License-Identifier: MIT

package encoder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Progress mirrors the encoder child's -progress key=value stream.
type Progress struct {
	Frame    string
	FPS      string
	Bitrate  string
	Dropped  string
	BytesOut string
	OutTime  string
}

// progressTracker consumes the child's progress pipe and keeps the latest
// sample for the periodic file write.
type progressTracker struct {
	mu     sync.Mutex
	latest Progress
	seen   bool
}

// consume reads key=value lines until r is exhausted.
func (t *progressTracker) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found {
			continue
		}
		t.mu.Lock()
		switch key {
		case "frame":
			t.latest.Frame = value
		case "fps":
			t.latest.FPS = value
		case "bitrate":
			t.latest.Bitrate = value
		case "drop_frames":
			t.latest.Dropped = value
		case "total_size":
			t.latest.BytesOut = value
		case "out_time":
			t.latest.OutTime = value
		}
		t.seen = true
		t.mu.Unlock()
	}
}

// snapshot returns the latest sample; ok is false before any data arrived.
func (t *progressTracker) snapshot() (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.seen
}

// WriteProgressFile persists a progress sample atomically in the key=value
// layout the diagnostics scripts expect.
func WriteProgressFile(path string, p Progress) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("frame=%s\nfps=%s\nbitrate=%s\ndropped=%s\nbytesOut=%s\noutTime=%s\n",
		p.Frame, p.FPS, p.Bitrate, p.Dropped, p.BytesOut, p.OutTime)
	return renameio.WriteFile(path, []byte(content), 0o644)
}
