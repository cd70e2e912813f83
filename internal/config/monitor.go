// SPDX-License-Identifier: MIT

package config

import "time"

// Monitor holds the configuration of the secondary-host fallback controller.
type Monitor struct {
	Bind string
	Port int

	HistoryWindow   time.Duration
	MissedThreshold time.Duration
	RecoveryReports int
	CheckInterval   time.Duration
	Cooldown        time.Duration
	MaxRecords      int

	StateFilePath string
	LogFilePath   string
	ModeFilePath  string

	SecondaryUnit string

	Token        string
	RequireToken bool

	RecoveryHintCooldown time.Duration
	TokenFilePath        string
	StreamID             string

	CameraPingEnabled bool
	CameraPingHost    string
	CameraPingEvery   time.Duration
}

// MonitorFromEnv builds the monitor configuration from the environment,
// applying deployment defaults for every unset key.
func MonitorFromEnv() Monitor {
	token := ParseString("", "YTR_TOKEN", "BWB_STATUS_TOKEN")
	requireToken, ok := lookupBool("YTR_REQUIRE_TOKEN", "BWB_STATUS_REQUIRE_TOKEN")
	if !ok {
		requireToken = token != ""
	}

	pingHost := ParseString("", "YTR_CAMERA_PING_HOST", "BWB_STATUS_CAMERA_PING_HOST")

	return Monitor{
		Bind: ParseString("0.0.0.0", "YTR_BIND", "BWB_STATUS_BIND"),
		Port: ParseInt(8080, "YTR_PORT", "BWB_STATUS_PORT"),

		HistoryWindow:   ParseDuration(300*time.Second, "YTR_HISTORY_WINDOW"),
		MissedThreshold: ParseDuration(40*time.Second, "YTR_MISSED_THRESHOLD", "BWB_STATUS_MISSED_THRESHOLD"),
		RecoveryReports: ParseInt(2, "YTR_RECOVERY_REPORTS"),
		CheckInterval:   ParseDuration(5*time.Second, "YTR_CHECK_INTERVAL", "BWB_STATUS_CHECK_INTERVAL"),
		Cooldown:        ParseDuration(30*time.Second, "YTR_COOLDOWN"),
		MaxRecords:      ParseInt(256, "YTR_MAX_RECORDS"),

		StateFilePath: ParseString("/var/lib/bwb-monitor/heartbeats.json", "YTR_STATE_FILE"),
		LogFilePath:   ParseString("", "YTR_LOG_FILE", "BWB_STATUS_LOG_FILE"),
		ModeFilePath:  ParseString("/run/youtube-fallback/mode", "YTR_FALLBACK_MODE_FILE", "BWB_STATUS_FALLBACK_MODE_FILE"),

		SecondaryUnit: ParseString("youtube-fallback.service", "YTR_SECONDARY_SERVICE", "BWB_STATUS_SECONDARY_SERVICE"),

		Token:        token,
		RequireToken: requireToken,

		RecoveryHintCooldown: ParseDuration(300*time.Second, "YTR_RECOVERY_HINT_COOLDOWN"),
		TokenFilePath:        ParseString("/root/token.json", "YTR_OAUTH_TOKEN_PATH", "YT_OAUTH_TOKEN_PATH"),
		StreamID:             ParseString("", "YTR_STREAM_ID"),

		CameraPingEnabled: ParseBool(pingHost != "", "YTR_CAMERA_PING_ENABLED") && pingHost != "",
		CameraPingHost:    pingHost,
		CameraPingEvery:   ParseDuration(30*time.Second, "YTR_CAMERA_PING_INTERVAL", "BWB_STATUS_CAMERA_PING_INTERVAL"),
	}
}

// ListenAddr joins bind host and port into a net listen address.
func (m Monitor) ListenAddr() string {
	return joinHostPort(m.Bind, m.Port)
}
