package transcoder

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testManager returns a manager whose hardware detection is pinned to
// software-only so command construction is deterministic.
func testManager() *Manager {
	hw := NewHardwareAccel("ffmpeg", hclog.NewNullLogger())
	hw.detected = true
	return &Manager{hw: hw, ffmpegPath: "ffmpeg"}
}

func indexOf(args []string, value string) int {
	for i, a := range args {
		if a == value {
			return i
		}
	}
	return -1
}

// argAfter returns the argument following the given flag, or "".
func argAfter(args []string, flag string) string {
	i := indexOf(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestRemuxCommandShape(t *testing.T) {
	m := testManager()
	audioIdx := 2
	args := m.buildRemuxCommand("/m/b.mkv", "/t/j/playlist.m3u8", "/t/j/segment_%03d.ts", RemuxParams{
		SegmentDuration:  6,
		AudioStreamIndex: &audioIdx,
		StartTime:        42.5,
	})

	// Fast seek before input.
	ssIdx := indexOf(args, "-ss")
	inIdx := indexOf(args, "-i")
	require.Greater(t, ssIdx, -1)
	require.Greater(t, inIdx, ssIdx)
	assert.Equal(t, "42.5", argAfter(args, "-ss"))
	assert.Equal(t, "/m/b.mkv", argAfter(args, "-i"))

	// Absolute audio stream index mapping.
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-map 0:v:0 -map 0:2")

	// Copy codecs, timestamp handling, HLS output.
	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "-copyts -start_at_zero -avoid_negative_ts make_zero")
	assert.Contains(t, joined, "-f hls")
	assert.Equal(t, "6", argAfter(args, "-hls_time"))
	assert.Equal(t, "mpegts", argAfter(args, "-hls_segment_type"))
	assert.Equal(t, "/t/j/segment_%03d.ts", argAfter(args, "-hls_segment_filename"))
	assert.Equal(t, "0", argAfter(args, "-start_number"))
	assert.Equal(t, "/t/j/playlist.m3u8", args[len(args)-1])
}

func TestRemuxCommandDefaultsAudioMapping(t *testing.T) {
	m := testManager()
	args := m.buildRemuxCommand("/m/a.mp4", "/t/p.m3u8", "/t/s_%03d.ts", RemuxParams{SegmentDuration: 6})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-map 0:v:0 -map 0:a?")
	assert.NotContains(t, joined, "-ss")
}

func TestHLSCommandSoftwareEncode(t *testing.T) {
	m := testManager()
	args := m.buildHLSCommand("/m/b.mkv", "/t/p.m3u8", "/t/s_%03d.ts", HLSParams{
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		VideoBitrate:    4_000_000,
		MaxWidth:        1280,
		MaxHeight:       720,
		SegmentDuration: 6,
	}, false)

	joined := strings.Join(args, " ")

	// Software fallback encoder with its preset arguments.
	assert.Equal(t, "libx264", argAfter(args, "-c:v"))
	assert.Contains(t, joined, "-preset veryfast")
	assert.Contains(t, joined, "-pix_fmt yuv420p")

	// AAC gets the HLS-compatible audio settings.
	assert.Equal(t, "aac", argAfter(args, "-c:a"))
	assert.Contains(t, joined, "-profile:a aac_low")
	assert.Contains(t, joined, "-ar 48000")
	assert.Contains(t, joined, "-ac 2")

	// Bitrate triple: rate, 1.2x maxrate, 2x bufsize.
	assert.Equal(t, "4000000", argAfter(args, "-b:v"))
	assert.Equal(t, "4800000", argAfter(args, "-maxrate"))
	assert.Equal(t, "8000000", argAfter(args, "-bufsize"))

	// Scaling filter with aspect preservation.
	vf := argAfter(args, "-vf")
	assert.Contains(t, vf, "scale='min(1280,iw)':'min(720,ih)':force_original_aspect_ratio=decrease")
	assert.Contains(t, vf, "force_divisible_by=2")

	assert.Contains(t, joined, "-copyts -start_at_zero")
}

func TestHLSCommandCopyVideoSkipsEncodeArgs(t *testing.T) {
	m := testManager()
	args := m.buildHLSCommand("/m/b.mkv", "/t/p.m3u8", "/t/s_%03d.ts", HLSParams{
		VideoCodec:      "copy",
		AudioCodec:      "aac",
		AudioBitrate:    128000,
		MaxWidth:        1280,
		SegmentDuration: 6,
	}, false)

	joined := strings.Join(args, " ")
	assert.Equal(t, "copy", argAfter(args, "-c:v"))
	assert.NotContains(t, joined, "-pix_fmt")
	assert.NotContains(t, joined, "-vf")
	assert.Equal(t, "128000", argAfter(args, "-b:a"))
}

func TestHLSCommandSubtitleBurnIn(t *testing.T) {
	m := testManager()
	subIdx := 3
	args := m.buildHLSCommand("/m/b.mkv", "/t/p.m3u8", "/t/s_%03d.ts", HLSParams{
		VideoCodec:          "h264",
		AudioCodec:          "aac",
		SegmentDuration:     6,
		SubtitleStreamIndex: &subIdx,
	}, true)

	vf := argAfter(args, "-vf")
	assert.Contains(t, vf, "subtitles='/m/b.mkv':stream_index=3")
}

func TestHLSCommandSpecificAudioStream(t *testing.T) {
	m := testManager()
	audioIdx := 4
	args := m.buildHLSCommand("/m/b.mkv", "/t/p.m3u8", "/t/s_%03d.ts", HLSParams{
		VideoCodec:       "h264",
		AudioCodec:       "aac",
		SegmentDuration:  6,
		AudioStreamIndex: &audioIdx,
	}, false)

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-map 0:v:0 -map 0:4")
}

func TestHLSOutputDefaultsSegmentDuration(t *testing.T) {
	args := hlsOutputArgs(0, "/t/s_%03d.ts", "/t/p.m3u8")
	assert.Equal(t, "6", argAfter(args, "-hls_time"))
}

func TestVideoEncoderSoftwareFallbacks(t *testing.T) {
	hw := NewHardwareAccel("ffmpeg", hclog.NewNullLogger())
	hw.detected = true

	encoder, presets := hw.VideoEncoder("h264")
	assert.Equal(t, "libx264", encoder)
	assert.Contains(t, presets, "veryfast")

	encoder, _ = hw.VideoEncoder("hevc")
	assert.Equal(t, "libx265", encoder)

	encoder, presets = hw.VideoEncoder("copy")
	assert.Equal(t, "copy", encoder)
	assert.Nil(t, presets)
}

func TestVideoEncoderPrefersNVENC(t *testing.T) {
	hw := NewHardwareAccel("ffmpeg", hclog.NewNullLogger())
	hw.detected = true
	hw.nvencAvailable = true
	hw.qsvAvailable = true
	hw.vaapiAvailable = true

	encoder, _ := hw.VideoEncoder("h264")
	assert.Equal(t, "h264_nvenc", encoder)

	hw.nvencAvailable = false
	encoder, _ = hw.VideoEncoder("h264")
	assert.Equal(t, "h264_qsv", encoder)

	hw.qsvAvailable = false
	encoder, _ = hw.VideoEncoder("h264")
	assert.Equal(t, "h264_vaapi", encoder)
}

func TestSubtitleCodecClassification(t *testing.T) {
	assert.True(t, IsTextSubtitle("subrip"))
	assert.True(t, IsTextSubtitle("SRT"))
	assert.True(t, IsTextSubtitle("mov_text"))
	assert.False(t, IsTextSubtitle("hdmv_pgs_subtitle"))

	assert.True(t, IsImageSubtitle("hdmv_pgs_subtitle"))
	assert.True(t, IsImageSubtitle("dvdsub"))
	assert.False(t, IsImageSubtitle("ass"))
}
