package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
)

// DefaultProbeTimeout bounds one ffprobe invocation.
const DefaultProbeTimeout = 30 * time.Second

// MediaInfo is the normalized result of probing one file.
type MediaInfo struct {
	Duration *float64
	Bitrate  *int64

	VideoStreams    []VideoStreamInfo
	AudioStreams    []AudioStreamInfo
	SubtitleStreams []SubtitleStreamInfo
}

// VideoStreamInfo carries one video stream's metadata. StreamIndex is the
// absolute index in the container, used verbatim in -map arguments.
type VideoStreamInfo struct {
	StreamIndex int
	Codec       string
	Width       *int
	Height      *int
	Bitrate     *int64
	FPS         *float64
	Profile     *string
	Level       *int
	PixelFormat *string
	BitDepth    *int

	ColorRange     *string
	ColorSpace     *string
	ColorPrimaries *string
	ColorTransfer  *string

	MaxLuminance *int
	MinLuminance *float64
	MaxCLL       *int
	MaxFALL      *int

	Language  *string
	Title     *string
	IsDefault bool
}

// AudioStreamInfo carries one audio stream's metadata.
type AudioStreamInfo struct {
	StreamIndex int
	Codec       string
	Channels    *int
	SampleRate  *int
	Bitrate     *int64
	Language    *string
	Title       *string
	IsDefault   bool
}

// SubtitleStreamInfo carries one subtitle stream's metadata.
type SubtitleStreamInfo struct {
	StreamIndex int
	Codec       string
	Language    *string
	Title       *string
	IsForced    bool
	IsDefault   bool
}

// ffprobe JSON wire types
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index          int               `json:"index"`
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	BitRate        string            `json:"bit_rate"`
	RFrameRate     string            `json:"r_frame_rate"`
	Profile        string            `json:"profile"`
	Level          int               `json:"level"`
	PixelFormat    string            `json:"pix_fmt"`
	Channels       int               `json:"channels"`
	SampleRate     string            `json:"sample_rate"`
	ColorRange     string            `json:"color_range"`
	ColorSpace     string            `json:"color_space"`
	ColorPrimaries string            `json:"color_primaries"`
	ColorTransfer  string            `json:"color_trc"`
	Tags           map[string]string `json:"tags"`
	Disposition    struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
	SideDataList []map[string]interface{} `json:"side_data_list"`
}

// Prober wraps ffprobe. It is stateless and safe for concurrent use.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a Prober for the given ffprobe binary.
func NewProber(ffprobePath string, timeout time.Duration) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{ffprobePath: ffprobePath, timeout: timeout}
}

// Probe analyzes one file. Failures (timeout, non-zero exit, malformed
// output) return an error wrapping apperrors.ErrProbeFailed; the caller
// decides policy.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %w: ffprobe timed out for %s", apperrors.ErrProbeFailed, apperrors.ErrTimeout, path)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: ffprobe failed for %s: %s", apperrors.ErrProbeFailed, path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%w: ffprobe failed for %s: %v", apperrors.ErrProbeFailed, path, err)
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput parses raw ffprobe JSON into a MediaInfo. Split out so
// tests can feed golden output without a binary.
func ParseProbeOutput(raw []byte) (*MediaInfo, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(raw, &probed); err != nil {
		return nil, fmt.Errorf("%w: malformed ffprobe output: %v", apperrors.ErrProbeFailed, err)
	}

	info := &MediaInfo{}

	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			info.Duration = &d
		}
	}
	if probed.Format.BitRate != "" {
		if b, err := strconv.ParseInt(probed.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = &b
		}
	}

	for i := range probed.Streams {
		stream := &probed.Streams[i]
		switch stream.CodecType {
		case "video":
			info.VideoStreams = append(info.VideoStreams, parseVideoStream(stream))
		case "audio":
			info.AudioStreams = append(info.AudioStreams, parseAudioStream(stream))
		case "subtitle":
			info.SubtitleStreams = append(info.SubtitleStreams, parseSubtitleStream(stream))
		}
	}

	return info, nil
}

func parseVideoStream(stream *ffprobeStream) VideoStreamInfo {
	v := VideoStreamInfo{
		StreamIndex: stream.Index,
		Codec:       codecOrUnknown(stream.CodecName),
		FPS:         parseFrameRate(stream.RFrameRate),
		IsDefault:   stream.Disposition.Default == 1,
		Language:    tagPtr(stream.Tags, "language"),
		Title:       tagPtr(stream.Tags, "title"),
	}
	if stream.Width > 0 {
		v.Width = &stream.Width
	}
	if stream.Height > 0 {
		v.Height = &stream.Height
	}
	if stream.BitRate != "" {
		if b, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
			v.Bitrate = &b
		}
	}
	if stream.Profile != "" {
		v.Profile = &stream.Profile
	}
	if stream.Level > 0 {
		v.Level = &stream.Level
	}
	if stream.PixelFormat != "" {
		v.PixelFormat = &stream.PixelFormat
		depth := parseBitDepth(stream.PixelFormat)
		v.BitDepth = &depth
	}
	v.ColorRange = strPtr(stream.ColorRange)
	v.ColorSpace = strPtr(stream.ColorSpace)
	v.ColorPrimaries = strPtr(stream.ColorPrimaries)
	v.ColorTransfer = strPtr(stream.ColorTransfer)

	parseHDRSideData(stream.SideDataList, &v)
	return v
}

func parseAudioStream(stream *ffprobeStream) AudioStreamInfo {
	a := AudioStreamInfo{
		StreamIndex: stream.Index,
		Codec:       codecOrUnknown(stream.CodecName),
		IsDefault:   stream.Disposition.Default == 1,
		Language:    tagPtr(stream.Tags, "language"),
		Title:       tagPtr(stream.Tags, "title"),
	}
	if stream.Channels > 0 {
		a.Channels = &stream.Channels
	}
	if stream.SampleRate != "" {
		if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
			a.SampleRate = &sr
		}
	}
	if stream.BitRate != "" {
		if b, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
			a.Bitrate = &b
		}
	}
	return a
}

func parseSubtitleStream(stream *ffprobeStream) SubtitleStreamInfo {
	return SubtitleStreamInfo{
		StreamIndex: stream.Index,
		Codec:       codecOrUnknown(stream.CodecName),
		Language:    tagPtr(stream.Tags, "language"),
		Title:       tagPtr(stream.Tags, "title"),
		IsForced:    stream.Disposition.Forced == 1,
		IsDefault:   stream.Disposition.Default == 1,
	}
}

// parseFrameRate parses a rational like "30000/1001" or "30/1".
func parseFrameRate(s string) *float64 {
	if s == "" || s == "0/0" {
		return nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return &f
		}
		return nil
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return nil
	}
	fps := num / den
	return &fps
}

// parseBitDepth derives bit depth from pixel format suffixes
// (yuv420p10le -> 10, yuv420p12le -> 12, yuv444p16le -> 16, else 8).
func parseBitDepth(pixFmt string) int {
	switch {
	case strings.Contains(pixFmt, "10le"), strings.Contains(pixFmt, "10be"), strings.Contains(pixFmt, "p010"):
		return 10
	case strings.Contains(pixFmt, "12le"), strings.Contains(pixFmt, "12be"), strings.Contains(pixFmt, "p012"):
		return 12
	case strings.Contains(pixFmt, "16le"), strings.Contains(pixFmt, "16be"), strings.Contains(pixFmt, "p016"):
		return 16
	default:
		return 8
	}
}

// parseHDRSideData extracts mastering-display and content-light metadata,
// normalizing rational num/den values to scalars.
func parseHDRSideData(sideDataList []map[string]interface{}, v *VideoStreamInfo) {
	for _, sideData := range sideDataList {
		sideType, _ := sideData["side_data_type"].(string)

		switch sideType {
		case "Mastering display metadata":
			if max, ok := parseRational(sideData["max_luminance"]); ok {
				maxInt := int(max)
				v.MaxLuminance = &maxInt
			}
			if min, ok := parseRational(sideData["min_luminance"]); ok {
				v.MinLuminance = &min
			}
		case "Content light level metadata":
			if cll, ok := parseRational(sideData["max_content"]); ok {
				cllInt := int(cll)
				v.MaxCLL = &cllInt
			}
			if fall, ok := parseRational(sideData["max_average"]); ok {
				fallInt := int(fall)
				v.MaxFALL = &fallInt
			}
		}
	}
}

// parseRational accepts "10000000/10000", plain numbers, or JSON numbers.
func parseRational(value interface{}) (float64, bool) {
	switch val := value.(type) {
	case float64:
		return val, true
	case string:
		if strings.Contains(val, "/") {
			parts := strings.SplitN(val, "/", 2)
			num, err1 := strconv.ParseFloat(parts[0], 64)
			den, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 != nil || err2 != nil || den == 0 {
				return 0, false
			}
			return num / den, true
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func codecOrUnknown(codec string) string {
	if codec == "" {
		return "unknown"
	}
	return codec
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func tagPtr(tags map[string]string, key string) *string {
	if tags == nil {
		return nil
	}
	return strPtr(tags[key])
}
