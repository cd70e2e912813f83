// SPDX-License-Identifier: MIT

// Package encoder builds and supervises the slate encoder pipeline: stream
// key handling, scene rotation, child process lifecycle and progress
// reporting.
package encoder

import (
	"errors"
	"fmt"
	"strings"
)

const backupMarker = "backup=1/"

var (
	ErrEmptyKey   = errors.New("stream key is empty after sanitization")
	ErrInvalidKey = errors.New("stream key contains query characters")
)

// SanitizeKey normalizes a stream key copied out of a dashboard or an env
// file: whitespace is stripped and stray backup markers from previously
// assembled URLs are removed. Sanitize is idempotent.
func SanitizeKey(raw string) (string, error) {
	key := strings.Join(strings.Fields(raw), "")
	// Repeat until no marker is left: removing one can join the text around
	// it into a new marker.
	for strings.Contains(key, backupMarker) {
		key = strings.ReplaceAll(key, backupMarker, "")
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	if strings.ContainsAny(key, "?&#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}

// NormalizeURL assembles the backup ingest URL from a base endpoint and a
// stream key. The base must be RTMPS; any query part already present is
// discarded so the call is idempotent over its own output.
func NormalizeURL(base, key string) (string, error) {
	key, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}

	base = strings.TrimSpace(base)
	if !strings.HasPrefix(strings.ToLower(base), "rtmps://") {
		return "", fmt.Errorf("backup ingest must be rtmps, got %q", base)
	}

	if idx := strings.IndexByte(base, '?'); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimRight(base, "/")

	return base + "?" + backupMarker + key, nil
}

// maskKey hides the stream key portion of an ingest URL for logging.
func maskKey(target string) string {
	if idx := strings.Index(target, "?"+backupMarker); idx >= 0 {
		return target[:idx+len("?"+backupMarker)] + "***"
	}
	return target
}

// ValidateTargetURL rejects URLs that are not RTMPS backup ingests. The
// runner must never stream the slate to the primary ingest: that would fight
// the recovered primary for the same entry point.
func ValidateTargetURL(target string) error {
	if !strings.HasPrefix(strings.ToLower(target), "rtmps://") {
		return fmt.Errorf("target %q is not rtmps", target)
	}
	if !strings.Contains(target, "?"+backupMarker) {
		return fmt.Errorf("target %q has no backup marker; refusing to stream to a primary ingest", target)
	}
	if strings.Count(target, backupMarker) > 1 {
		return fmt.Errorf("target %q repeats the backup marker", target)
	}
	return nil
}
