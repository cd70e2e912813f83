// SPDX-License-Identifier: MIT

package encoder

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// Mode selects the synthetic source family for non-file scenes.
type Mode string

const (
	// ModeLife renders the animated life-like source.
	ModeLife Mode = "life"
	// ModeSMPTE renders standard color bars.
	ModeSMPTE Mode = "smpte"
)

// ParseMode maps a mode-file value to a Mode; unknown values fall back to
// def. The historical "smptehdbars" spelling is accepted.
func ParseMode(raw string, def Mode) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "life":
		return ModeLife
	case "smpte", "smptehdbars", "bars":
		return ModeSMPTE
	default:
		return def
	}
}

// ReadModeFile loads the current mode from path. A missing or unreadable
// file yields def.
func ReadModeFile(path string, def Mode) Mode {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return def
	}
	return ParseMode(string(data), def)
}

// WriteModeFile persists the mode atomically, creating the directory when
// needed.
func WriteModeFile(path string, mode Mode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, []byte(string(mode)+"\n"), 0o644)
}
