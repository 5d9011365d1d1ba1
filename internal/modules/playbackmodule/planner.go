package playbackmodule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasFerec/ferelix-server/internal/database"
)

// remuxTargetContainer is the container codec compatibility is checked
// against for direct-stream decisions.
const remuxTargetContainer = "mp4"

// defaultAudioTranscodeBitrate is used when only the audio track needs
// re-encoding.
const defaultAudioTranscodeBitrate = 128000

// Options gates which play methods the caller allows.
type Options struct {
	AllowDirectPlay     bool
	AllowDirectStream   bool
	AllowTranscode      bool
	RequestedResolution *RequestedResolution
}

// StreamBuilder compares device capabilities with media metadata and emits
// a playback decision. It is pure: no I/O, no side effects, and identical
// inputs yield identical outputs.
type StreamBuilder struct {
	profile            DeviceProfile
	directPlayProfiles []DirectPlayProfile
	codecProfiles      []CodecProfile
}

// NewStreamBuilder creates a builder for one device profile.
func NewStreamBuilder(profile DeviceProfile) *StreamBuilder {
	return &StreamBuilder{
		profile:            profile,
		directPlayProfiles: profile.DirectPlayProfiles,
		codecProfiles:      profile.CodecProfiles,
	}
}

type checkResult struct {
	canPlay bool
	reasons []TranscodeReason
}

// BuildStreamInfo decides how the media file should be delivered. The
// evaluation order is fixed: manual resolution override, direct play,
// direct stream, audio-only transcode, full transcode.
func (b *StreamBuilder) BuildStreamInfo(media *database.MediaFile, opts Options) StreamInfo {
	container := containerOf(media)

	info := StreamInfo{
		ID:                   fmt.Sprintf("%d", media.ID),
		Path:                 media.FilePath,
		Container:            container,
		VideoType:            "VideoFile",
		PlayMethod:           PlayMethodDirectPlay,
		TranscodeReasons:     []TranscodeReason{},
		MediaStreams:         buildMediaStreams(media),
		AvailableResolutions: availableResolutions(media),
	}
	if media.Duration != nil {
		ticks := int64(*media.Duration * 10_000_000)
		info.RunTimeTicks = &ticks
	}
	info.Bitrate = media.Bitrate

	// Manual resolution override bypasses direct play to honor user intent.
	if opts.RequestedResolution != nil {
		info.PlayMethod = PlayMethodTranscode
		info.TranscodingURL = fmt.Sprintf("/api/v1/hls/%d/start", media.ID)
		info.TranscodingContainer = "mp4"
		info.TranscodingVideoCodec = "h264"
		info.TranscodingAudioCodec = "aac"
		info.TranscodingType = "full"
		info.TranscodeSettings = &TranscodeSettings{
			VideoCodec:  "h264",
			AudioCodec:  "aac",
			MaxWidth:    opts.RequestedResolution.Width,
			MaxHeight:   opts.RequestedResolution.Height,
			IsRemuxOnly: false,
		}
		return info
	}

	if opts.AllowDirectPlay {
		result := b.checkDirectPlay(media, container)
		if result.canPlay {
			info.PlayMethod = PlayMethodDirectPlay
			info.DirectStreamURL = fmt.Sprintf("/api/v1/stream/%d", media.ID)
			return info
		}
		info.TranscodeReasons = append(info.TranscodeReasons, result.reasons...)
	}

	if opts.AllowDirectStream {
		result := b.checkDirectStream(media)
		if result.canPlay {
			info.PlayMethod = PlayMethodDirectStream
			info.TranscodingURL = fmt.Sprintf("/api/v1/hls/%d/remux", media.ID)
			info.TranscodingContainer = "ts"
			info.TranscodingType = "remux"
			info.IsRemuxOnly = true
			info.TranscodeSettings = &TranscodeSettings{
				VideoCodec:  "copy",
				AudioCodec:  "copy",
				IsRemuxOnly: true,
			}
			return info
		}
		info.TranscodeReasons = append(info.TranscodeReasons, result.reasons...)

		// Video would remux but audio would not: copy video, re-encode audio.
		videoOK, audioOK := b.needsAudioTranscode(media)
		if videoOK && !audioOK {
			info.PlayMethod = PlayMethodTranscode
			info.TranscodingURL = fmt.Sprintf("/api/v1/hls/%d/audio-transcode", media.ID)
			info.TranscodingContainer = "ts"
			info.TranscodingVideoCodec = "copy"
			info.TranscodingAudioCodec = "aac"
			info.TranscodingType = "audio-only"
			info.TranscodeReasons = append(info.TranscodeReasons, ReasonAudioTranscodeRequired)
			info.TranscodeSettings = &TranscodeSettings{
				VideoCodec:   "copy",
				AudioCodec:   "aac",
				AudioBitrate: defaultAudioTranscodeBitrate,
				IsRemuxOnly:  false,
			}
			return info
		}
	}

	info.PlayMethod = PlayMethodTranscode
	info.TranscodingType = "full"
	if opts.AllowTranscode {
		info.TranscodingURL = fmt.Sprintf("/api/v1/hls/%d/start", media.ID)
		info.TranscodingContainer = "mp4"
		info.TranscodingVideoCodec = "h264"
		info.TranscodingAudioCodec = "aac"
	} else {
		// Nothing matched and transcoding is disallowed; surface the error.
		info.TranscodeReasons = append(info.TranscodeReasons, ReasonDirectPlayError)
	}
	return info
}

// checkDirectPlay verifies the container plus first video and audio tracks
// against the device profile.
func (b *StreamBuilder) checkDirectPlay(media *database.MediaFile, container string) checkResult {
	var reasons []TranscodeReason

	if !b.isContainerSupported(container) {
		reasons = append(reasons, ReasonContainerNotSupported)
		return checkResult{false, reasons}
	}

	if len(media.VideoTracks) > 0 {
		result := b.checkVideoCodec(&media.VideoTracks[0], container)
		if !result.canPlay {
			return checkResult{false, append(reasons, result.reasons...)}
		}
	}
	if len(media.AudioTracks) > 0 {
		result := b.checkAudioCodec(&media.AudioTracks[0], container)
		if !result.canPlay {
			return checkResult{false, append(reasons, result.reasons...)}
		}
	}
	return checkResult{true, reasons}
}

// checkDirectStream verifies codec compatibility against the remux target
// container.
func (b *StreamBuilder) checkDirectStream(media *database.MediaFile) checkResult {
	var reasons []TranscodeReason

	if len(media.VideoTracks) > 0 {
		result := b.checkVideoCodec(&media.VideoTracks[0], remuxTargetContainer)
		if !result.canPlay {
			return checkResult{false, append(reasons, result.reasons...)}
		}
	}
	if len(media.AudioTracks) > 0 {
		result := b.checkAudioCodec(&media.AudioTracks[0], remuxTargetContainer)
		if !result.canPlay {
			return checkResult{false, append(reasons, result.reasons...)}
		}
	}
	return checkResult{true, reasons}
}

// needsAudioTranscode returns (videoOK, audioOK) for the remux target.
func (b *StreamBuilder) needsAudioTranscode(media *database.MediaFile) (bool, bool) {
	videoOK, audioOK := true, true
	if len(media.VideoTracks) > 0 {
		videoOK = b.checkVideoCodec(&media.VideoTracks[0], remuxTargetContainer).canPlay
	}
	if len(media.AudioTracks) > 0 {
		audioOK = b.checkAudioCodec(&media.AudioTracks[0], remuxTargetContainer).canPlay
	}
	return videoOK, audioOK
}

func (b *StreamBuilder) checkVideoCodec(track *database.VideoTrack, container string) checkResult {
	var reasons []TranscodeReason

	codec := track.Codec
	if codec == "" || codec == "unknown" {
		return checkResult{false, append(reasons, ReasonUnknownVideoStreamInfo)}
	}

	supported := false
	for _, profile := range b.directPlayProfiles {
		if profile.Type == "Video" && profile.VideoCodec != "" &&
			listContains(profile.Container, container) &&
			listContains(profile.VideoCodec, codec) {
			supported = true
			break
		}
	}
	if !supported {
		return checkResult{false, append(reasons, ReasonVideoCodecNotSupported)}
	}

	return b.checkCodecConditions(videoTrackProperty(track), codec, "Video", reasons)
}

func (b *StreamBuilder) checkAudioCodec(track *database.AudioTrack, container string) checkResult {
	var reasons []TranscodeReason

	codec := track.Codec
	if codec == "" || codec == "unknown" {
		return checkResult{false, append(reasons, ReasonUnknownAudioStreamInfo)}
	}

	supported := false
	for _, profile := range b.directPlayProfiles {
		if profile.AudioCodec != "" && listContains(profile.AudioCodec, codec) &&
			(profile.Type == "Audio" || (profile.Type == "Video" && listContains(profile.Container, container))) {
			supported = true
			break
		}
	}
	if !supported {
		return checkResult{false, append(reasons, ReasonAudioCodecNotSupported)}
	}

	return b.checkCodecConditions(audioTrackProperty(track), codec, "Audio", reasons)
}

// checkCodecConditions evaluates every condition of every matching codec
// profile. Optional failures accumulate reasons; a required failure stops
// and rejects.
func (b *StreamBuilder) checkCodecConditions(getProperty propertyFunc, codec, trackType string, reasons []TranscodeReason) checkResult {
	for _, profile := range b.codecProfiles {
		if profile.Type != trackType || profile.Codec != codec {
			continue
		}
		for _, condition := range profile.Conditions {
			if !conditionFails(getProperty, condition) {
				continue
			}
			if reason, ok := reasonForProperty(condition.Property); ok {
				reasons = append(reasons, reason)
			}
			if condition.IsRequired {
				return checkResult{false, reasons}
			}
		}
	}
	return checkResult{true, reasons}
}

// conditionFails evaluates one condition. An unknown actual value passes;
// a missing-data rejection would be wrong.
func conditionFails(getProperty propertyFunc, condition ProfileCondition) bool {
	actual, ok := getProperty(condition.Property)
	if !ok {
		return false
	}

	switch condition.Condition {
	case ConditionLessThanEqual:
		actualNum, err1 := toFloat(actual)
		expected, err2 := strconv.ParseFloat(condition.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return actualNum > expected
	case ConditionEquals:
		return toString(actual) != condition.Value
	case ConditionEqualsAny:
		allowed := strings.Split(condition.Value, "|")
		actualStr := toString(actual)
		for _, v := range allowed {
			if actualStr == v {
				return false
			}
		}
		return true
	case ConditionGreaterThanEqual:
		actualNum, err1 := toFloat(actual)
		expected, err2 := strconv.ParseFloat(condition.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return actualNum < expected
	}
	return false
}

// propertyFunc resolves a condition property name to the track's value.
type propertyFunc func(property string) (interface{}, bool)

func videoTrackProperty(track *database.VideoTrack) propertyFunc {
	return func(property string) (interface{}, bool) {
		switch property {
		case "VideoLevel":
			return derefInt(track.Level)
		case "Width":
			return derefInt(track.Width)
		case "Height":
			return derefInt(track.Height)
		case "VideoBitrate":
			return derefInt64(track.Bitrate)
		case "VideoBitDepth":
			return derefInt(track.BitDepth)
		case "VideoProfile":
			return derefStr(track.Profile)
		case "VideoRange":
			return videoRange(track), true
		}
		return nil, false
	}
}

func audioTrackProperty(track *database.AudioTrack) propertyFunc {
	return func(property string) (interface{}, bool) {
		switch property {
		case "AudioChannels":
			return derefInt(track.Channels)
		case "AudioSampleRate":
			return derefInt(track.SampleRate)
		case "AudioBitrate":
			return derefInt64(track.Bitrate)
		}
		return nil, false
	}
}

// hdrIndicators flag a track as HDR when found in its color metadata.
var hdrIndicators = []string{"bt2020", "rec2020", "smpte2084", "arib-std-b67", "hlg"}

// videoRange derives "HDR" or "SDR" from color primaries/transfer/space.
func videoRange(track *database.VideoTrack) string {
	fields := []string{
		strings.ToLower(derefOrEmpty(track.ColorSpace)),
		strings.ToLower(derefOrEmpty(track.ColorPrimaries)),
		strings.ToLower(derefOrEmpty(track.ColorTransfer)),
	}
	for _, field := range fields {
		for _, indicator := range hdrIndicators {
			if field != "" && strings.Contains(field, indicator) {
				return "HDR"
			}
		}
	}
	return "SDR"
}

func reasonForProperty(property string) (TranscodeReason, bool) {
	switch property {
	case "VideoLevel":
		return ReasonVideoLevelNotSupported, true
	case "Width", "Height":
		return ReasonVideoResolutionNotSupported, true
	case "VideoBitrate":
		return ReasonVideoBitrateNotSupported, true
	case "VideoBitDepth":
		return ReasonVideoBitDepthNotSupported, true
	case "VideoProfile":
		return ReasonVideoProfileNotSupported, true
	case "VideoRange":
		return ReasonVideoRangeNotSupported, true
	case "AudioChannels":
		return ReasonAudioChannelsNotSupported, true
	case "AudioSampleRate":
		return ReasonAudioSampleRateNotSupported, true
	case "AudioBitrate":
		return ReasonAudioBitrateNotSupported, true
	}
	return "", false
}

// isContainerSupported checks the container against every video profile's
// comma-separated container list.
func (b *StreamBuilder) isContainerSupported(container string) bool {
	for _, profile := range b.directPlayProfiles {
		if profile.Type != "Video" {
			continue
		}
		if listContains(profile.Container, container) {
			return true
		}
	}
	return false
}

// buildMediaStreams assembles the contiguously-indexed stream listing.
func buildMediaStreams(media *database.MediaFile) []MediaStream {
	streams := make([]MediaStream, 0, len(media.VideoTracks)+len(media.AudioTracks)+len(media.SubtitleTracks))

	index := 0
	for i := range media.VideoTracks {
		track := &media.VideoTracks[i]
		streams = append(streams, MediaStream{
			Index:         index,
			Type:          "Video",
			Codec:         track.Codec,
			Width:         track.Width,
			Height:        track.Height,
			BitRate:       track.Bitrate,
			RealFrameRate: track.FPS,
			Profile:       track.Profile,
			Level:         track.Level,
			PixelFormat:   track.PixelFormat,
			BitDepth:      track.BitDepth,
			IsDefault:     track.IsDefault,
			Language:      track.Language,
			Title:         track.Title,
		})
		index++
	}
	for i := range media.AudioTracks {
		track := &media.AudioTracks[i]
		streams = append(streams, MediaStream{
			Index:      index,
			Type:       "Audio",
			Codec:      track.Codec,
			Channels:   track.Channels,
			SampleRate: track.SampleRate,
			BitRate:    track.Bitrate,
			IsDefault:  track.IsDefault,
			Language:   track.Language,
			Title:      track.Title,
		})
		index++
	}
	for i := range media.SubtitleTracks {
		track := &media.SubtitleTracks[i]
		streams = append(streams, MediaStream{
			Index:     index,
			Type:      "Subtitle",
			Codec:     track.Codec,
			IsDefault: track.IsDefault,
			IsForced:  track.IsForced,
			Language:  track.Language,
			Title:     track.Title,
		})
		index++
	}
	return streams
}

// standardResolutions is the transcode ladder offered for manual selection.
var standardResolutions = []ResolutionOption{
	{Width: 3840, Height: 2160, Label: "4K (3840x2160)"},
	{Width: 2560, Height: 1440, Label: "1440p (2560x1440)"},
	{Width: 1920, Height: 1080, Label: "1080p (1920x1080)"},
	{Width: 1280, Height: 720, Label: "720p (1280x720)"},
	{Width: 854, Height: 480, Label: "480p (854x480)"},
	{Width: 640, Height: 360, Label: "360p (640x360)"},
}

// availableResolutions returns the original resolution followed by every
// standard tier strictly below it.
func availableResolutions(media *database.MediaFile) []ResolutionOption {
	if len(media.VideoTracks) == 0 {
		return []ResolutionOption{}
	}

	track := &media.VideoTracks[0]
	originalWidth := 1920
	originalHeight := 1080
	if track.Width != nil {
		originalWidth = *track.Width
	}
	if track.Height != nil {
		originalHeight = *track.Height
	}

	out := []ResolutionOption{{
		Width:      originalWidth,
		Height:     originalHeight,
		Label:      fmt.Sprintf("%dx%d (Original)", originalWidth, originalHeight),
		IsOriginal: true,
	}}

	for _, res := range standardResolutions {
		if res.Width < originalWidth || (res.Width == originalWidth && res.Height < originalHeight) {
			out = append(out, res)
		}
	}
	return out
}

func containerOf(media *database.MediaFile) string {
	if media.FileExtension == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(media.FileExtension), ".")
}

// listContains checks membership in a comma-separated list, trimming
// whitespace and ignoring case.
func listContains(list, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, item := range strings.Split(list, ",") {
		if strings.ToLower(strings.TrimSpace(item)) == value {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func derefInt(v *int) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func derefInt64(v *int64) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func derefStr(v *string) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
