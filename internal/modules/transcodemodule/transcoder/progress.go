package transcoder

import (
	"regexp"
	"strconv"
	"strings"
)

// ffmpeg writes progress lines like:
//
//	frame= 1234 fps= 56 q=28.0 size=    2048kB time=00:01:23.45 bitrate=1843.2kbits/s speed=2.31x
var (
	frameRegex   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRegex    = regexp.MustCompile(`time=(\d{2}):(\d{2}):([\d.]+)`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
	speedRegex   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ProgressUpdate is one parsed progress sample from encoder stderr.
// TranscodedDuration is job-relative: the encoder's absolute input time
// minus the session's seek offset, never negative.
type ProgressUpdate struct {
	Frame              *int64
	CurrentFPS         *float64
	TranscodedDuration *float64
	ProgressPercent    *float64
	CurrentBitrate     *int
	Speed              *float64
}

// parseProgressLine extracts progress from one stderr line. Returns nil for
// non-progress lines. totalDuration is the media duration in seconds (zero
// when unknown); startOffset is the session's -ss seek.
func parseProgressLine(line string, totalDuration, startOffset float64) *ProgressUpdate {
	timeMatch := timeRegex.FindStringSubmatch(line)
	frameMatch := frameRegex.FindStringSubmatch(line)
	if timeMatch == nil || frameMatch == nil {
		return nil
	}

	update := &ProgressUpdate{}

	if frame, err := strconv.ParseInt(frameMatch[1], 10, 64); err == nil {
		update.Frame = &frame
	}

	if match := fpsRegex.FindStringSubmatch(line); match != nil {
		if fps, err := strconv.ParseFloat(match[1], 64); err == nil {
			update.CurrentFPS = &fps
		}
	}

	hours, _ := strconv.ParseFloat(timeMatch[1], 64)
	minutes, _ := strconv.ParseFloat(timeMatch[2], 64)
	seconds, _ := strconv.ParseFloat(timeMatch[3], 64)
	absolute := hours*3600 + minutes*60 + seconds

	relative := absolute - startOffset
	if relative < 0 {
		relative = 0
	}
	update.TranscodedDuration = &relative

	if remaining := totalDuration - startOffset; remaining > 0 {
		percent := relative / remaining * 100
		if percent > 100 {
			percent = 100
		}
		update.ProgressPercent = &percent
	}

	if match := bitrateRegex.FindStringSubmatch(line); match != nil {
		if kbps, err := strconv.ParseFloat(match[1], 64); err == nil {
			bps := int(kbps * 1000)
			update.CurrentBitrate = &bps
		}
	}

	if match := speedRegex.FindStringSubmatch(line); match != nil {
		if speed, err := strconv.ParseFloat(match[1], 64); err == nil {
			update.Speed = &speed
		}
	}

	return update
}

// errorKeywords select the stderr lines worth surfacing on failure.
var errorKeywords = []string{"error", "failed", "invalid", "unable", "could not", "cannot"}

// meaningfulErrorLines picks the lines most likely to explain a failure:
// keyword matches first, else the last 20 lines.
func meaningfulErrorLines(lines []string) []string {
	var matched []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, line)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if len(lines) > 20 {
		return lines[len(lines)-20:]
	}
	return lines
}
