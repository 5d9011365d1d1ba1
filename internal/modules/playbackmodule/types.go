package playbackmodule

// PlayMethod is the playback decision for a media source.
type PlayMethod string

const (
	PlayMethodDirectPlay   PlayMethod = "DirectPlay"   // native playback, no server processing
	PlayMethodDirectStream PlayMethod = "DirectStream" // remux only, no re-encoding
	PlayMethodTranscode    PlayMethod = "Transcode"    // re-encoding required
)

// TranscodeReason explains why a stream cannot be played as-is.
type TranscodeReason string

const (
	ReasonContainerNotSupported TranscodeReason = "ContainerNotSupported"
	ReasonVideoCodecNotSupported TranscodeReason = "VideoCodecNotSupported"
	ReasonAudioCodecNotSupported TranscodeReason = "AudioCodecNotSupported"

	ReasonVideoProfileNotSupported    TranscodeReason = "VideoProfileNotSupported"
	ReasonVideoLevelNotSupported      TranscodeReason = "VideoLevelNotSupported"
	ReasonVideoResolutionNotSupported TranscodeReason = "VideoResolutionNotSupported"
	ReasonVideoBitDepthNotSupported   TranscodeReason = "VideoBitDepthNotSupported"
	ReasonVideoBitrateNotSupported    TranscodeReason = "VideoBitrateNotSupported"
	ReasonVideoRangeNotSupported      TranscodeReason = "VideoRangeNotSupported"

	ReasonAudioChannelsNotSupported   TranscodeReason = "AudioChannelsNotSupported"
	ReasonAudioSampleRateNotSupported TranscodeReason = "AudioSampleRateNotSupported"
	ReasonAudioBitrateNotSupported    TranscodeReason = "AudioBitrateNotSupported"

	ReasonAudioTranscodeRequired TranscodeReason = "AudioTranscodeRequired"
	ReasonDirectPlayError        TranscodeReason = "DirectPlayError"
	ReasonUnknownVideoStreamInfo TranscodeReason = "UnknownVideoStreamInfo"
	ReasonUnknownAudioStreamInfo TranscodeReason = "UnknownAudioStreamInfo"
)

// Condition operators
const (
	ConditionLessThanEqual    = "LessThanEqual"
	ConditionEquals           = "Equals"
	ConditionEqualsAny        = "EqualsAny"
	ConditionGreaterThanEqual = "GreaterThanEqual"
)

// ProfileCondition is one constraint inside a codec profile. Required
// failures force transcoding; optional failures are recorded as reasons.
type ProfileCondition struct {
	Condition  string `json:"Condition"`
	Property   string `json:"Property"`
	Value      string `json:"Value"`
	IsRequired bool   `json:"IsRequired"`
}

// DirectPlayProfile lists formats the client plays natively. Container and
// codec lists are comma-separated, compared case-insensitively.
type DirectPlayProfile struct {
	Type       string `json:"Type"` // "Video" or "Audio"
	Container  string `json:"Container"`
	VideoCodec string `json:"VideoCodec,omitempty"`
	AudioCodec string `json:"AudioCodec,omitempty"`
}

// CodecProfile constrains a codec the client nominally supports.
type CodecProfile struct {
	Type       string             `json:"Type"`
	Codec      string             `json:"Codec"`
	Conditions []ProfileCondition `json:"Conditions"`
}

// SubtitleProfile declares how the client handles a subtitle format.
type SubtitleProfile struct {
	Format string `json:"Format"`
	Method string `json:"Method"` // "External", "Embed", "Encode"
}

// DeviceProfile is the client capability document sent with playback-info
// requests.
type DeviceProfile struct {
	Name               string              `json:"Name"`
	ID                 string              `json:"Id"`
	DirectPlayProfiles []DirectPlayProfile `json:"DirectPlayProfiles"`
	CodecProfiles      []CodecProfile      `json:"CodecProfiles"`
	SubtitleProfiles   []SubtitleProfile   `json:"SubtitleProfiles"`
}

// RequestedResolution is a manual quality override.
type RequestedResolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlaybackInfoRequest is the body of POST /api/v1/playback-info/{id}.
type PlaybackInfoRequest struct {
	DeviceProfile       DeviceProfile        `json:"DeviceProfile"`
	EnableDirectPlay    *bool                `json:"EnableDirectPlay"`
	EnableDirectStream  *bool                `json:"EnableDirectStream"`
	EnableTranscoding   *bool                `json:"EnableTranscoding"`
	RequestedResolution *RequestedResolution `json:"RequestedResolution"`
}

// TranscodeSettings carries the encoder parameters a decision implies.
type TranscodeSettings struct {
	VideoCodec   string `json:"VideoCodec,omitempty"`
	AudioCodec   string `json:"AudioCodec,omitempty"`
	VideoBitrate int    `json:"VideoBitrate,omitempty"`
	AudioBitrate int    `json:"AudioBitrate,omitempty"`
	MaxWidth     int    `json:"MaxWidth,omitempty"`
	MaxHeight    int    `json:"MaxHeight,omitempty"`
	IsRemuxOnly  bool   `json:"IsRemuxOnly"`
}

// MediaStream describes one stream in the media_streams listing. Indexes
// are contiguous across video, audio, then subtitle streams.
type MediaStream struct {
	Index         int      `json:"Index"`
	Type          string   `json:"Type"`
	Codec         string   `json:"Codec,omitempty"`
	Width         *int     `json:"Width,omitempty"`
	Height        *int     `json:"Height,omitempty"`
	BitRate       *int64   `json:"BitRate,omitempty"`
	RealFrameRate *float64 `json:"RealFrameRate,omitempty"`
	Profile       *string  `json:"Profile,omitempty"`
	Level         *int     `json:"Level,omitempty"`
	PixelFormat   *string  `json:"PixelFormat,omitempty"`
	BitDepth      *int     `json:"BitDepth,omitempty"`
	Channels      *int     `json:"Channels,omitempty"`
	SampleRate    *int     `json:"SampleRate,omitempty"`
	IsDefault     bool     `json:"IsDefault"`
	IsForced      bool     `json:"IsForced,omitempty"`
	Language      *string  `json:"Language,omitempty"`
	Title         *string  `json:"Title,omitempty"`
}

// ResolutionOption is one entry of the available-resolutions ladder.
type ResolutionOption struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Label      string `json:"label"`
	IsOriginal bool   `json:"is_original"`
}

// StreamInfo is the playback decision for one media source.
type StreamInfo struct {
	ID        string `json:"Id"`
	Path      string `json:"Path,omitempty"`
	Container string `json:"Container,omitempty"`
	VideoType string `json:"VideoType,omitempty"`

	PlayMethod       PlayMethod        `json:"PlayMethod"`
	TranscodeReasons []TranscodeReason `json:"TranscodeReasons"`
	IsRemuxOnly      bool              `json:"IsRemuxOnly"`

	DirectStreamURL string `json:"DirectStreamUrl,omitempty"`
	TranscodingURL  string `json:"TranscodingUrl,omitempty"`

	TranscodingContainer  string `json:"TranscodingContainer,omitempty"`
	TranscodingVideoCodec string `json:"TranscodingVideoCodec,omitempty"`
	TranscodingAudioCodec string `json:"TranscodingAudioCodec,omitempty"`
	TranscodingType       string `json:"TranscodingType,omitempty"`

	TranscodeSettings *TranscodeSettings `json:"TranscodeSettings,omitempty"`

	MediaStreams         []MediaStream      `json:"MediaStreams"`
	AvailableResolutions []ResolutionOption `json:"AvailableResolutions"`

	RunTimeTicks *int64 `json:"RunTimeTicks,omitempty"`
	Bitrate      *int64 `json:"Bitrate,omitempty"`
}

// PlaybackInfoResponse wraps the decision with a play session id.
type PlaybackInfoResponse struct {
	MediaSources  []StreamInfo `json:"MediaSources"`
	PlaySessionID string       `json:"PlaySessionId,omitempty"`
}
