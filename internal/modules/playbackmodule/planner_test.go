package playbackmodule

import (
	"reflect"
	"testing"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int          { return &v }
func int64p(v int64) *int64    { return &v }
func floatp(v float64) *float64 { return &v }
func strp(v string) *string    { return &v }

// webProfile supports mp4/mkv containers with h264/hevc video and aac/mp3
// audio, mirroring a capable browser client.
func webProfile() DeviceProfile {
	return DeviceProfile{
		Name: "Web",
		ID:   "web-test",
		DirectPlayProfiles: []DirectPlayProfile{
			{Type: "Video", Container: "mp4,mkv", VideoCodec: "h264,hevc", AudioCodec: "aac,mp3"},
		},
	}
}

func h264AacMp4() *database.MediaFile {
	return &database.MediaFile{
		ID:            1,
		FilePath:      "/m/a.mp4",
		FileName:      "a.mp4",
		FileExtension: ".mp4",
		Duration:      floatp(120),
		Bitrate:       int64p(3_000_000),
		VideoTracks: []database.VideoTrack{
			{StreamIndex: 0, Codec: "h264", Width: intp(1920), Height: intp(1080), BitDepth: intp(8)},
		},
		AudioTracks: []database.AudioTrack{
			{StreamIndex: 1, Codec: "aac", Channels: intp(2), SampleRate: intp(48000)},
		},
	}
}

func hevcAc3Mkv() *database.MediaFile {
	return &database.MediaFile{
		ID:            2,
		FilePath:      "/m/b.mkv",
		FileName:      "b.mkv",
		FileExtension: ".mkv",
		Duration:      floatp(5400),
		VideoTracks: []database.VideoTrack{
			{StreamIndex: 0, Codec: "hevc", Width: intp(3840), Height: intp(2160), BitDepth: intp(10)},
		},
		AudioTracks: []database.AudioTrack{
			{StreamIndex: 1, Codec: "ac3", Channels: intp(6)},
		},
	}
}

func allowAll() Options {
	return Options{AllowDirectPlay: true, AllowDirectStream: true, AllowTranscode: true}
}

func TestDirectPlayDecision(t *testing.T) {
	builder := NewStreamBuilder(webProfile())
	info := builder.BuildStreamInfo(h264AacMp4(), allowAll())

	assert.Equal(t, PlayMethodDirectPlay, info.PlayMethod)
	assert.Equal(t, "/api/v1/stream/1", info.DirectStreamURL)
	assert.Empty(t, info.TranscodeReasons)
	assert.Empty(t, info.TranscodingURL)
	require.NotNil(t, info.RunTimeTicks)
	assert.Equal(t, int64(1_200_000_000), *info.RunTimeTicks)
}

func TestAudioOnlyTranscodeDecision(t *testing.T) {
	// hevc video is remuxable under this profile; ac3 audio is not.
	builder := NewStreamBuilder(webProfile())
	info := builder.BuildStreamInfo(hevcAc3Mkv(), allowAll())

	assert.Equal(t, PlayMethodTranscode, info.PlayMethod)
	assert.Equal(t, "audio-only", info.TranscodingType)
	assert.Equal(t, "/api/v1/hls/2/audio-transcode", info.TranscodingURL)
	require.NotNil(t, info.TranscodeSettings)
	assert.Equal(t, "copy", info.TranscodeSettings.VideoCodec)
	assert.Equal(t, "aac", info.TranscodeSettings.AudioCodec)
	assert.Equal(t, defaultAudioTranscodeBitrate, info.TranscodeSettings.AudioBitrate)
	assert.Contains(t, info.TranscodeReasons, ReasonAudioCodecNotSupported)
	assert.Contains(t, info.TranscodeReasons, ReasonAudioTranscodeRequired)
}

func TestManualResolutionOverrideBypassesDirectPlay(t *testing.T) {
	builder := NewStreamBuilder(webProfile())
	opts := allowAll()
	opts.RequestedResolution = &RequestedResolution{Width: 1280, Height: 720}

	info := builder.BuildStreamInfo(h264AacMp4(), opts)

	assert.Equal(t, PlayMethodTranscode, info.PlayMethod)
	require.NotNil(t, info.TranscodeSettings)
	assert.Equal(t, "h264", info.TranscodeSettings.VideoCodec)
	assert.Equal(t, "aac", info.TranscodeSettings.AudioCodec)
	assert.Equal(t, 1280, info.TranscodeSettings.MaxWidth)
	assert.Equal(t, 720, info.TranscodeSettings.MaxHeight)
	assert.False(t, info.TranscodeSettings.IsRemuxOnly)
	assert.Equal(t, "full", info.TranscodingType)
}

func TestDirectStreamRemuxDecision(t *testing.T) {
	// mkv container is not listed, but its h264/aac codecs fit the mp4
	// remux target.
	profile := DeviceProfile{
		DirectPlayProfiles: []DirectPlayProfile{
			{Type: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
		},
	}
	media := h264AacMp4()
	media.FileExtension = ".mkv"

	info := NewStreamBuilder(profile).BuildStreamInfo(media, allowAll())

	assert.Equal(t, PlayMethodDirectStream, info.PlayMethod)
	assert.True(t, info.IsRemuxOnly)
	assert.Equal(t, "ts", info.TranscodingContainer)
	assert.Equal(t, "/api/v1/hls/1/remux", info.TranscodingURL)
	require.NotNil(t, info.TranscodeSettings)
	assert.Equal(t, "copy", info.TranscodeSettings.VideoCodec)
	assert.Equal(t, "copy", info.TranscodeSettings.AudioCodec)
	assert.Contains(t, info.TranscodeReasons, ReasonContainerNotSupported)
}

func TestFullTranscodeFallback(t *testing.T) {
	// Nothing matches: vp9/opus against an h264/aac-only profile.
	profile := DeviceProfile{
		DirectPlayProfiles: []DirectPlayProfile{
			{Type: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
		},
	}
	media := &database.MediaFile{
		ID: 3, FileExtension: ".webm",
		VideoTracks: []database.VideoTrack{{StreamIndex: 0, Codec: "vp9"}},
		AudioTracks: []database.AudioTrack{{StreamIndex: 1, Codec: "opus"}},
	}

	info := NewStreamBuilder(profile).BuildStreamInfo(media, allowAll())

	assert.Equal(t, PlayMethodTranscode, info.PlayMethod)
	assert.Equal(t, "full", info.TranscodingType)
	assert.Equal(t, "mp4", info.TranscodingContainer)
	assert.Equal(t, "h264", info.TranscodingVideoCodec)
	assert.Equal(t, "aac", info.TranscodingAudioCodec)
}

func TestTranscodeDisallowedSurfacesError(t *testing.T) {
	profile := DeviceProfile{
		DirectPlayProfiles: []DirectPlayProfile{
			{Type: "Video", Container: "mp4", VideoCodec: "h264", AudioCodec: "aac"},
		},
	}
	media := &database.MediaFile{
		ID: 4, FileExtension: ".webm",
		VideoTracks: []database.VideoTrack{{StreamIndex: 0, Codec: "vp9"}},
		AudioTracks: []database.AudioTrack{{StreamIndex: 1, Codec: "opus"}},
	}

	opts := allowAll()
	opts.AllowTranscode = false
	info := NewStreamBuilder(profile).BuildStreamInfo(media, opts)

	assert.Equal(t, PlayMethodTranscode, info.PlayMethod)
	assert.Empty(t, info.TranscodingURL)
	assert.Contains(t, info.TranscodeReasons, ReasonDirectPlayError)
}

func TestRequiredConditionFailureForcesTranscode(t *testing.T) {
	profile := webProfile()
	profile.CodecProfiles = []CodecProfile{
		{
			Type:  "Video",
			Codec: "h264",
			Conditions: []ProfileCondition{
				{Condition: ConditionLessThanEqual, Property: "Width", Value: "1280", IsRequired: true},
			},
		},
	}

	info := NewStreamBuilder(profile).BuildStreamInfo(h264AacMp4(), allowAll())

	assert.NotEqual(t, PlayMethodDirectPlay, info.PlayMethod)
	assert.Contains(t, info.TranscodeReasons, ReasonVideoResolutionNotSupported)
}

func TestOptionalConditionFailureRecordsReasonOnly(t *testing.T) {
	profile := webProfile()
	profile.CodecProfiles = []CodecProfile{
		{
			Type:  "Video",
			Codec: "h264",
			Conditions: []ProfileCondition{
				{Condition: ConditionLessThanEqual, Property: "Width", Value: "1280", IsRequired: false},
			},
		},
	}

	info := NewStreamBuilder(profile).BuildStreamInfo(h264AacMp4(), allowAll())

	// The failure is advisory; direct play still wins.
	assert.Equal(t, PlayMethodDirectPlay, info.PlayMethod)
}

func TestUnknownPropertyValuePassesConditions(t *testing.T) {
	profile := webProfile()
	profile.CodecProfiles = []CodecProfile{
		{
			Type:  "Video",
			Codec: "h264",
			Conditions: []ProfileCondition{
				{Condition: ConditionLessThanEqual, Property: "VideoLevel", Value: "41", IsRequired: true},
			},
		},
	}

	// Track has no level; the condition cannot reject on missing data.
	info := NewStreamBuilder(profile).BuildStreamInfo(h264AacMp4(), allowAll())
	assert.Equal(t, PlayMethodDirectPlay, info.PlayMethod)
}

func TestConditionOperators(t *testing.T) {
	track := &database.VideoTrack{
		Codec: "h264", Width: intp(1920), Height: intp(1080),
		BitDepth: intp(10), Profile: strp("High"),
	}
	get := videoTrackProperty(track)

	cases := []struct {
		name      string
		condition ProfileCondition
		fails     bool
	}{
		{"le pass", ProfileCondition{Condition: ConditionLessThanEqual, Property: "Width", Value: "1920"}, false},
		{"le fail", ProfileCondition{Condition: ConditionLessThanEqual, Property: "Width", Value: "1280"}, true},
		{"ge pass", ProfileCondition{Condition: ConditionGreaterThanEqual, Property: "Height", Value: "720"}, false},
		{"ge fail", ProfileCondition{Condition: ConditionGreaterThanEqual, Property: "Height", Value: "2160"}, true},
		{"eq pass", ProfileCondition{Condition: ConditionEquals, Property: "VideoProfile", Value: "High"}, false},
		{"eq fail", ProfileCondition{Condition: ConditionEquals, Property: "VideoProfile", Value: "Main"}, true},
		{"any pass", ProfileCondition{Condition: ConditionEqualsAny, Property: "VideoBitDepth", Value: "8|10"}, false},
		{"any fail", ProfileCondition{Condition: ConditionEqualsAny, Property: "VideoBitDepth", Value: "8"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.fails, conditionFails(get, tc.condition))
		})
	}
}

func TestVideoRangeDerivation(t *testing.T) {
	hdr := &database.VideoTrack{
		ColorPrimaries: strp("bt2020"),
		ColorTransfer:  strp("smpte2084"),
		ColorSpace:     strp("bt2020nc"),
	}
	assert.Equal(t, "HDR", videoRange(hdr))

	hlg := &database.VideoTrack{ColorTransfer: strp("arib-std-b67")}
	assert.Equal(t, "HDR", videoRange(hlg))

	sdr := &database.VideoTrack{
		ColorPrimaries: strp("bt709"),
		ColorTransfer:  strp("bt709"),
	}
	assert.Equal(t, "SDR", videoRange(sdr))

	unknown := &database.VideoTrack{}
	assert.Equal(t, "SDR", videoRange(unknown))
}

func TestVideoRangeConditionRejectsHDR(t *testing.T) {
	profile := webProfile()
	profile.CodecProfiles = []CodecProfile{
		{
			Type:  "Video",
			Codec: "hevc",
			Conditions: []ProfileCondition{
				{Condition: ConditionEqualsAny, Property: "VideoRange", Value: "SDR", IsRequired: true},
			},
		},
	}

	media := hevcAc3Mkv()
	media.VideoTracks[0].ColorTransfer = strp("smpte2084")
	media.AudioTracks[0].Codec = "aac"

	info := NewStreamBuilder(profile).BuildStreamInfo(media, allowAll())
	assert.NotEqual(t, PlayMethodDirectPlay, info.PlayMethod)
	assert.Contains(t, info.TranscodeReasons, ReasonVideoRangeNotSupported)
}

func TestMediaStreamsContiguousIndexing(t *testing.T) {
	media := h264AacMp4()
	media.SubtitleTracks = []database.SubtitleTrack{
		{StreamIndex: 2, Codec: "subrip", IsForced: true},
	}

	info := NewStreamBuilder(webProfile()).BuildStreamInfo(media, allowAll())

	require.Len(t, info.MediaStreams, 3)
	assert.Equal(t, 0, info.MediaStreams[0].Index)
	assert.Equal(t, "Video", info.MediaStreams[0].Type)
	assert.Equal(t, 1, info.MediaStreams[1].Index)
	assert.Equal(t, "Audio", info.MediaStreams[1].Type)
	assert.Equal(t, 2, info.MediaStreams[2].Index)
	assert.Equal(t, "Subtitle", info.MediaStreams[2].Type)
	assert.True(t, info.MediaStreams[2].IsForced)
}

func TestAvailableResolutionsLadder(t *testing.T) {
	info := NewStreamBuilder(webProfile()).BuildStreamInfo(h264AacMp4(), allowAll())

	require.NotEmpty(t, info.AvailableResolutions)
	assert.True(t, info.AvailableResolutions[0].IsOriginal)
	assert.Equal(t, 1920, info.AvailableResolutions[0].Width)

	// Only tiers strictly below 1080p follow the original.
	for _, res := range info.AvailableResolutions[1:] {
		assert.False(t, res.IsOriginal)
		assert.Less(t, res.Width, 1920)
	}
	// 720p, 480p, 360p.
	assert.Len(t, info.AvailableResolutions, 4)
}

func TestDecisionIsDeterministic(t *testing.T) {
	builder := NewStreamBuilder(webProfile())
	media := hevcAc3Mkv()
	opts := allowAll()

	first := builder.BuildStreamInfo(media, opts)
	second := builder.BuildStreamInfo(media, opts)
	assert.True(t, reflect.DeepEqual(first, second))
}

func TestListContains(t *testing.T) {
	assert.True(t, listContains("mp4,mkv", "MKV"))
	assert.True(t, listContains(" mp4 , mkv ", "mp4"))
	assert.False(t, listContains("mp4,mkv", "avi"))
	assert.False(t, listContains("", "mp4"))
}
