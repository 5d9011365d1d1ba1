package transcoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// subtitleExtractTimeout bounds one WebVTT extraction.
const subtitleExtractTimeout = 120 * time.Second

// textSubtitleCodecs can be extracted to WebVTT.
var textSubtitleCodecs = map[string]bool{
	"subrip":   true,
	"srt":      true,
	"ass":      true,
	"ssa":      true,
	"webvtt":   true,
	"mov_text": true,
	"text":     true,
}

// imageSubtitleCodecs must be burned into the video.
var imageSubtitleCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true,
	"pgssub":            true,
	"dvd_subtitle":      true,
	"dvdsub":            true,
	"dvb_subtitle":      true,
	"xsub":              true,
	"vobsub":            true,
}

// IsTextSubtitle reports whether the codec can be extracted to WebVTT.
func IsTextSubtitle(codec string) bool {
	return textSubtitleCodecs[strings.ToLower(codec)]
}

// IsImageSubtitle reports whether the codec must be burned in.
func IsImageSubtitle(codec string) bool {
	return imageSubtitleCodecs[strings.ToLower(codec)]
}

// SubtitleCacheDir returns the directory extracted WebVTT files live in.
func (m *Manager) SubtitleCacheDir() string {
	return m.JobDir("subtitles")
}

// ExtractSubtitle extracts one text subtitle stream to WebVTT. The stream
// index is the absolute container index. Succeeds only when ffmpeg exits
// zero and the output file exists.
func (m *Manager) ExtractSubtitle(mediaPath string, streamIndex int, outputPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), subtitleExtractTimeout)
	defer cancel()

	// Absolute index mapping (0:N), not subtitle-relative (0:s:N).
	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-y",
		"-i", mediaPath,
		"-map", fmt.Sprintf("0:%d", streamIndex),
		"-c:s", "webvtt",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		m.log.Error("subtitle extraction timed out", "media", mediaPath, "stream", streamIndex)
		return false
	}
	if err != nil {
		m.log.Error("subtitle extraction failed", "media", mediaPath, "stream", streamIndex,
			"error", err, "output", strings.TrimSpace(string(output)))
		return false
	}

	_, statErr := os.Stat(outputPath)
	return statErr == nil
}
