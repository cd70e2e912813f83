// SPDX-License-Identifier: MIT

package reporter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// deliveryEntry is one line of the JSONL delivery log operators use to
// diagnose heartbeat trouble from the primary side.
type deliveryEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// appendDeliveryLog appends the entry and prunes lines older than the
// retention window. Log failures are silent: the delivery log must never
// interfere with reporting.
func (r *Reporter) appendDeliveryLog(entry deliveryEntry) {
	if r.cfg.LogPath == "" {
		return
	}

	cutoff := entry.Timestamp.Add(-r.cfg.LogRetention)
	var retained [][]byte

	if data, err := os.ReadFile(r.cfg.LogPath); err == nil { // #nosec G304
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := scanner.Bytes()
			var old deliveryEntry
			if json.Unmarshal(line, &old) != nil {
				continue
			}
			if old.Timestamp.Before(cutoff) {
				continue
			}
			retained = append(retained, append([]byte(nil), line...))
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	retained = append(retained, line)

	if err := os.MkdirAll(filepath.Dir(r.cfg.LogPath), 0o755); err != nil {
		return
	}
	var buf bytes.Buffer
	for _, l := range retained {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	_ = renameio.WriteFile(r.cfg.LogPath, buf.Bytes(), 0o644)
}
