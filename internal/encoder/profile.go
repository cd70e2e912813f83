// SPDX-License-Identifier: MIT

package encoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultBackupBase = "rtmps://b.rtmps.youtube.com/live2"

// Profile is the full encoder configuration, loaded from the shell-style env
// file the deployment scripts maintain.
type Profile struct {
	TargetURL string

	Scenes       []string
	SceneSeconds int

	Width        int
	Height       int
	FPS          int
	VideoBitrate string
	AudioBitrate string
	KeyintSec    int
	Preset       string
	OverlayText  string
	DelaySeconds int

	DefaultMode      Mode
	ModeFilePath     string
	ProgressFilePath string
	ProgressInterval time.Duration
	RetryDelay       time.Duration

	BinPath string
}

// LoadProfile builds a Profile from env-file values, applying deployment
// defaults and validating the ingest target. It fails when the stream key is
// unusable: the service manager must see a non-zero exit rather than a slate
// aimed at the wrong ingest.
func LoadProfile(values map[string]string) (Profile, error) {
	get := func(key, def string) string {
		if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	getInt := func(key string, def int) int {
		if v, ok := values[key]; ok {
			if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
				return i
			}
		}
		return def
	}

	p := Profile{
		SceneSeconds: getInt("SCENE_SECONDS", 300),
		Width:        getInt("VIDEO_W", 1280),
		Height:       getInt("VIDEO_H", 720),
		FPS:          getInt("VIDEO_FPS", 30),
		VideoBitrate: get("VIDEO_BITRATE", "2500k"),
		AudioBitrate: get("AUDIO_BITRATE", "128k"),
		KeyintSec:    getInt("KEYINT_SECONDS", 2),
		Preset:       get("PRESET", "veryfast"),
		OverlayText:  get("OVERLAY_TEXT", ""),
		DelaySeconds: getInt("DELAY_SECONDS", 0),

		DefaultMode:      ParseMode(get("DEFAULT_MODE", "life"), ModeLife),
		ModeFilePath:     get("MODE_FILE", "/run/youtube-fallback/mode"),
		ProgressFilePath: get("PROGRESS_FILE", "/run/youtube-fallback/progress"),
		ProgressInterval: time.Duration(getInt("PROGRESS_SECONDS", 30)) * time.Second,
		RetryDelay:       time.Duration(getInt("RETRY_DELAY", 10)) * time.Second,

		BinPath: get("FFMPEG_BIN", "ffmpeg"),
	}

	for _, scene := range strings.Split(get("SCENES", ""), ",") {
		scene = strings.TrimSpace(scene)
		if scene != "" {
			p.Scenes = append(p.Scenes, scene)
		}
	}
	if len(p.Scenes) == 0 {
		// A single synthetic scene; the concrete source follows the mode file.
		p.Scenes = []string{sceneSynthetic}
	}

	if explicit := get("YT_URL", ""); explicit != "" {
		if err := ValidateTargetURL(explicit); err != nil {
			return Profile{}, err
		}
		p.TargetURL = explicit
		return p, nil
	}

	key := get("YT_KEY", "")
	if key == "" {
		return Profile{}, fmt.Errorf("YT_KEY missing: %w", ErrEmptyKey)
	}
	target, err := NormalizeURL(get("YT_BACKUP_BASE", defaultBackupBase), key)
	if err != nil {
		return Profile{}, err
	}
	p.TargetURL = target
	return p, nil
}
