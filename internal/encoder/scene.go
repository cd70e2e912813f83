// SPDX-License-Identifier: MIT

package encoder

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// sceneSynthetic marks a scene whose source is generated rather than read
// from a file; the concrete filter follows the current mode.
const sceneSynthetic = "synthetic"

// IsFileScene reports whether the scene string resolves to an existing local
// file. Everything else is treated as a synthetic source specification.
func IsFileScene(scene string) bool {
	info, err := os.Stat(scene)
	return err == nil && info.Mode().IsRegular()
}

// syntheticSource maps a scene and mode to a lavfi source spec.
func syntheticSource(scene string, mode Mode, width, height, fps int) string {
	if scene != sceneSynthetic && strings.Contains(scene, "=") {
		// Explicit filter spec from the scene list is used verbatim.
		return scene
	}
	size := fmt.Sprintf("%dx%d", width, height)
	if mode == ModeSMPTE {
		return fmt.Sprintf("smptehdbars=s=%s:rate=%d", size, fps)
	}
	return fmt.Sprintf("life=size=%s:mold=10:rate=%d:ratio=0.1:death_color=#c83232:life_color=#00ff00,scale=%s:flags=neighbor", size, fps, size)
}

// BuildArgs assembles the encoder child's argument list for one scene run.
// The child terminates itself after the scene duration.
func BuildArgs(p Profile, scene string, mode Mode) []string {
	args := []string{"-hide_banner", "-nostats", "-loglevel", "error"}

	if IsFileScene(scene) {
		args = append(args, "-re", "-stream_loop", "-1", "-i", scene)
	} else {
		args = append(args, "-re", "-f", "lavfi", "-i", syntheticSource(scene, mode, p.Width, p.Height, p.FPS))
	}

	// Silent audio bed; YouTube rejects video-only ingests.
	args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")

	var filters []string
	filters = append(filters, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	if p.OverlayText != "" {
		filters = append(filters, fmt.Sprintf(
			"drawtext=text='%s':fontcolor=white:fontsize=36:box=1:boxcolor=black@0.5:x=(w-text_w)/2:y=h-80",
			escapeDrawtext(p.OverlayText)))
	}
	args = append(args, "-vf", strings.Join(filters, ","))

	gop := p.KeyintSec * p.FPS
	args = append(args,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.VideoBitrate,
		"-bufsize", doubledRate(p.VideoBitrate),
		"-g", strconv.Itoa(gop),
		"-r", strconv.Itoa(p.FPS),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-ar", "44100",
	)

	if p.DelaySeconds > 0 {
		args = append(args, "-itsoffset", strconv.Itoa(p.DelaySeconds))
	}
	if p.SceneSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(p.SceneSeconds))
	}

	args = append(args, "-progress", "pipe:1", "-f", "flv", p.TargetURL)
	return args
}

// doubledRate doubles a "2500k"-style bitrate for the VBV buffer.
func doubledRate(rate string) string {
	trimmed := strings.TrimSuffix(strings.ToLower(rate), "k")
	if v, err := strconv.Atoi(trimmed); err == nil {
		return strconv.Itoa(v*2) + "k"
	}
	return rate
}

func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return replacer.Replace(text)
}
