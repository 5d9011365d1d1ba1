package transcoder

import (
	"fmt"
	"strconv"
	"strings"
)

// HLSParams configures a transcoding HLS session.
type HLSParams struct {
	VideoCodec          string
	AudioCodec          string
	VideoBitrate        int
	AudioBitrate        int
	MaxWidth            int
	MaxHeight           int
	SegmentDuration     int
	AudioStreamIndex    *int
	SubtitleStreamIndex *int
	StartTime           float64
}

// RemuxParams configures a remux-only HLS session.
type RemuxParams struct {
	SegmentDuration  int
	AudioStreamIndex *int
	StartTime        float64
}

// buildHLSCommand assembles the ffmpeg argument list for a transcoding HLS
// session. The returned slice excludes the binary name.
func (m *Manager) buildHLSCommand(inputPath, playlistPath, segmentPattern string, params HLSParams, burnSubtitle bool) []string {
	cmd := []string{"-y"}

	encoder, encoderArgs := m.hw.VideoEncoder(params.VideoCodec)
	vaapi := strings.Contains(encoder, "vaapi")

	if vaapi && m.hw.VAAPIDevice() != "" {
		cmd = append(cmd, "-vaapi_device", m.hw.VAAPIDevice())
	}

	// Fast seek goes before -i.
	if params.StartTime > 0 {
		cmd = append(cmd, "-ss", formatSeconds(params.StartTime))
	}

	cmd = append(cmd, "-i", inputPath)

	// Stream mapping uses the absolute indices stored by the scanner.
	if params.AudioStreamIndex != nil {
		cmd = append(cmd, "-map", "0:v:0", "-map", fmt.Sprintf("0:%d", *params.AudioStreamIndex))
	} else {
		cmd = append(cmd, "-map", "0:v:0", "-map", "0:a:0?")
	}

	cmd = append(cmd, "-c:v", encoder)
	if encoder != "copy" {
		cmd = append(cmd, encoderArgs...)
		if !vaapi {
			cmd = append(cmd, "-pix_fmt", "yuv420p")
		}
	}

	cmd = append(cmd, "-c:a", params.AudioCodec)
	if params.AudioCodec == "aac" {
		cmd = append(cmd,
			"-profile:a", "aac_low",
			"-ar", "48000",
			"-ac", "2",
		)
	}
	if params.AudioBitrate > 0 && params.AudioCodec != "copy" {
		cmd = append(cmd, "-b:a", strconv.Itoa(params.AudioBitrate))
	}

	if params.VideoBitrate > 0 && encoder != "copy" {
		cmd = append(cmd,
			"-b:v", strconv.Itoa(params.VideoBitrate),
			"-maxrate", strconv.Itoa(int(float64(params.VideoBitrate)*1.2)),
			"-bufsize", strconv.Itoa(params.VideoBitrate*2),
		)
	}

	if filters := m.buildVideoFilters(inputPath, encoder, params, burnSubtitle); len(filters) > 0 && encoder != "copy" {
		cmd = append(cmd, "-vf", strings.Join(filters, ","))
	}

	// Preserve timestamps for accurate duration.
	cmd = append(cmd, "-copyts", "-start_at_zero")

	cmd = append(cmd, hlsOutputArgs(params.SegmentDuration, segmentPattern, playlistPath)...)
	return cmd
}

// buildVideoFilters assembles the -vf chain: subtitle burn, scaling, and
// VAAPI upload, in an order that keeps the burn on software frames.
func (m *Manager) buildVideoFilters(inputPath, encoder string, params HLSParams, burnSubtitle bool) []string {
	var filters []string
	vaapi := strings.Contains(encoder, "vaapi")

	// Image-codec burn-in happens on software frames; with a hardware
	// encoder the frames are uploaded afterwards.
	if burnSubtitle && params.SubtitleStreamIndex != nil && encoder != "copy" {
		filters = append(filters, fmt.Sprintf("subtitles='%s':stream_index=%d", inputPath, *params.SubtitleStreamIndex))
	}

	if vaapi {
		filters = append(filters, "format=nv12", "hwupload")
	}

	if (params.MaxWidth > 0 || params.MaxHeight > 0) && encoder != "copy" {
		if vaapi {
			switch {
			case params.MaxWidth > 0 && params.MaxHeight > 0:
				filters = append(filters, fmt.Sprintf(
					"scale_vaapi=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease",
					params.MaxWidth, params.MaxHeight))
			case params.MaxWidth > 0:
				filters = append(filters, fmt.Sprintf("scale_vaapi=w=%d:h=-2", params.MaxWidth))
			default:
				filters = append(filters, fmt.Sprintf("scale_vaapi=w=-2:h=%d", params.MaxHeight))
			}
		} else {
			switch {
			case params.MaxWidth > 0 && params.MaxHeight > 0:
				filters = append(filters, fmt.Sprintf(
					"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
					params.MaxWidth, params.MaxHeight))
			case params.MaxWidth > 0:
				filters = append(filters, fmt.Sprintf("scale=%d:-2", params.MaxWidth))
			default:
				filters = append(filters, fmt.Sprintf("scale=-2:%d", params.MaxHeight))
			}
		}
	}

	return filters
}

// buildRemuxCommand assembles the ffmpeg argument list for a remux-only
// session: codecs copied, container changed to HLS/TS.
func (m *Manager) buildRemuxCommand(inputPath, playlistPath, segmentPattern string, params RemuxParams) []string {
	cmd := []string{"-y"}

	if params.StartTime > 0 {
		cmd = append(cmd, "-ss", formatSeconds(params.StartTime))
	}

	cmd = append(cmd, "-i", inputPath)

	if params.AudioStreamIndex != nil {
		cmd = append(cmd, "-map", "0:v:0", "-map", fmt.Sprintf("0:%d", *params.AudioStreamIndex))
	} else {
		cmd = append(cmd, "-map", "0:v:0", "-map", "0:a?")
	}

	cmd = append(cmd, "-c", "copy")
	cmd = append(cmd, "-copyts", "-start_at_zero", "-avoid_negative_ts", "make_zero")
	cmd = append(cmd, hlsOutputArgs(params.SegmentDuration, segmentPattern, playlistPath)...)
	return cmd
}

func hlsOutputArgs(segmentDuration int, segmentPattern, playlistPath string) []string {
	if segmentDuration <= 0 {
		segmentDuration = 6
	}
	return []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentDuration),
		"-hls_playlist_type", "event",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", segmentPattern,
		"-start_number", "0",
		playlistPath,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
