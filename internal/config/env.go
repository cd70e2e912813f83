// SPDX-License-Identifier: MIT

// Package config loads process configuration from environment variables.
// The historical deployment used two prefixes (YTR_ and BWB_STATUS_); both
// are accepted, with YTR_ taking precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
)

// ParseString reads a string from the first set environment variable among
// keys, or returns the default value.
func ParseString(defaultValue string, keys ...string) string {
	logger := log.WithComponent("config")
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			lowerKey := strings.ToLower(key)
			if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
				logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
			} else {
				logger.Debug().Str("key", key).Str("value", v).Msg("using environment variable")
			}
			return v
		}
	}
	return defaultValue
}

// ParseInt reads a positive integer from the first set environment variable
// among keys. Invalid or non-positive values fall back to the default.
func ParseInt(defaultValue int, keys ...string) int {
	logger := log.WithComponent("config")
	for _, key := range keys {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil || i <= 0 {
			logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
				Msg("invalid integer in environment variable, using default")
			return defaultValue
		}
		return i
	}
	return defaultValue
}

// ParseBool reads a boolean from the first set environment variable among
// keys. Accepts true/false, 1/0, yes/no, on/off (case-insensitive).
func ParseBool(defaultValue bool, keys ...string) bool {
	v, ok := lookupBool(keys...)
	if !ok {
		return defaultValue
	}
	return v
}

// lookupBool is ParseBool without a default, so callers can tell "unset"
// from "explicitly false".
func lookupBool(keys ...string) (bool, bool) {
	logger := log.WithComponent("config")
	for _, key := range keys {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		default:
			logger.Warn().Str("key", key).Str("value", v).
				Msg("invalid boolean in environment variable, ignoring")
			return false, false
		}
	}
	return false, false
}

// ParseDuration reads a whole-second count from the first set environment
// variable among keys and returns it as a duration.
func ParseDuration(defaultValue time.Duration, keys ...string) time.Duration {
	secs := ParseInt(int(defaultValue/time.Second), keys...)
	return time.Duration(secs) * time.Second
}
