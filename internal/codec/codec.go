// Package codec is the codec registry for framesyncd: canonical names and
// aliases for the codecs that appear in STANAG 4609 transport streams and
// in this daemon's output sessions, their MPEG-TS stream types, and the
// ffmpeg encoder to use for each codec under each hardware accelerator.
package codec

import "strings"

// Video represents a video codec.
type Video string

// Video codec constants. The encode targets are the configured output
// codecs; the remaining entries exist for identifying what arrives on the
// ingest stream.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoVP8  Video = "vp8"
	VideoVP9  Video = "vp9"
	// Seen on ingest only, never an encode target.
	VideoMPEG1 Video = "mpeg1"
	VideoMPEG2 Video = "mpeg2"
	VideoMPEG4 Video = "mpeg4"
)

// Audio represents an audio codec. The synchronizer never decodes or
// re-encodes audio; these exist so elementary streams in the ingest TS can
// be identified and described.
type Audio string

// Audio codec constants.
const (
	AudioAAC  Audio = "aac"
	AudioMP3  Audio = "mp3"
	AudioAC3  Audio = "ac3"
	AudioEAC3 Audio = "eac3"
	AudioOpus Audio = "opus"
)

// HWAccel represents a hardware acceleration type.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelAuto  HWAccel = "auto"         // Auto-detect best available
	HWAccelNone  HWAccel = "none"         // Disabled (software only)
	HWAccelCUDA  HWAccel = "cuda"         // NVIDIA CUDA/NVDEC
	HWAccelQSV   HWAccel = "qsv"          // Intel QuickSync
	HWAccelVAAPI HWAccel = "vaapi"        // Linux VA-API
	HWAccelVT    HWAccel = "videotoolbox" // macOS VideoToolbox
)

// OutputFormat is an ffmpeg muxer/format name used by the output path.
type OutputFormat string

// Output format constants: on-disk containers plus the self-delimiting
// bitstream formats the encode chain reads back over a pipe.
const (
	FormatMPEGTS     OutputFormat = "mpegts"
	FormatMP4        OutputFormat = "mp4"
	FormatMKV        OutputFormat = "matroska"
	FormatAVI        OutputFormat = "avi"
	FormatIVF        OutputFormat = "ivf"
	FormatAnnexB     OutputFormat = "h264"
	FormatAnnexBHEVC OutputFormat = "hevc"
	FormatRawVideo   OutputFormat = "rawvideo"
	FormatUnknown    OutputFormat = ""
)

func (v Video) String() string        { return string(v) }
func (a Audio) String() string        { return string(a) }
func (h HWAccel) String() string      { return string(h) }
func (o OutputFormat) String() string { return string(o) }

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	// Canonical name (h264, h265, etc.)
	Name Video
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoders for each hardware acceleration type; nil = decode only
	Encoders map[HWAccel]string
	// Whether this codec can be demuxed by mediacommon's MPEG-TS reader
	Demuxable bool
	// MPEG-TS stream type identifier (0 if not carried in MPEG-TS)
	MPEGTSStreamType uint8
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name             Audio
	Aliases          []string
	Demuxable        bool
	MPEGTSStreamType uint8
}

// MPEG-TS stream type constants.
const (
	StreamTypeMPEG1 uint8 = 0x01
	StreamTypeMPEG2 uint8 = 0x02
	StreamTypeMP3   uint8 = 0x03
	StreamTypeAAC   uint8 = 0x0F
	StreamTypeMPEG4 uint8 = 0x10
	StreamTypeH264  uint8 = 0x1B
	StreamTypeH265  uint8 = 0x24
	StreamTypeAC3   uint8 = 0x81
	StreamTypeEAC3  uint8 = 0x87
)

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "h.264",
			// Encoders
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
			"h264_videotoolbox", "h264_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelAuto:  "libx264",
			HWAccelCUDA:  "h264_nvenc",
			HWAccelQSV:   "h264_qsv",
			HWAccelVAAPI: "h264_vaapi",
			HWAccelVT:    "h264_videotoolbox",
		},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeH264,
	},
	VideoH265: {
		Name: VideoH265,
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			// Encoders
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
			"hevc_videotoolbox", "hevc_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx265",
			HWAccelAuto:  "libx265",
			HWAccelCUDA:  "hevc_nvenc",
			HWAccelQSV:   "hevc_qsv",
			HWAccelVAAPI: "hevc_vaapi",
			HWAccelVT:    "hevc_videotoolbox",
		},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeH265,
	},
	VideoVP8: {
		Name:     VideoVP8,
		Aliases:  []string{"vp8", "libvpx"},
		Encoders: map[HWAccel]string{HWAccelNone: "libvpx", HWAccelAuto: "libvpx"},
		// No standardized MPEG-TS carriage.
		Demuxable:        false,
		MPEGTSStreamType: 0,
	},
	VideoVP9: {
		Name:    VideoVP9,
		Aliases: []string{"vp9", "vp09", "libvpx-vp9", "vp9_qsv", "vp9_vaapi"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libvpx-vp9",
			HWAccelAuto:  "libvpx-vp9",
			HWAccelQSV:   "vp9_qsv",
			HWAccelVAAPI: "vp9_vaapi",
		},
		Demuxable:        false,
		MPEGTSStreamType: 0,
	},
	VideoMPEG1: {
		Name:             VideoMPEG1,
		Aliases:          []string{"mpeg1", "mpeg1video"},
		Encoders:         nil, // ingest only
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeMPEG1,
	},
	VideoMPEG2: {
		Name:             VideoMPEG2,
		Aliases:          []string{"mpeg2", "mpeg2video"},
		Encoders:         nil, // ingest only
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeMPEG2,
	},
	VideoMPEG4: {
		Name:             VideoMPEG4,
		Aliases:          []string{"mpeg4"},
		Encoders:         nil, // ingest only
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeMPEG4,
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:             AudioAAC,
		Aliases:          []string{"aac", "mp4a"},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeAAC,
	},
	AudioMP3: {
		Name:             AudioMP3,
		Aliases:          []string{"mp3", "mp3float"},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeMP3,
	},
	AudioAC3: {
		Name:             AudioAC3,
		Aliases:          []string{"ac3", "ac-3", "a52"},
		Demuxable:        true,
		MPEGTSStreamType: StreamTypeAC3,
	},
	AudioEAC3: {
		Name:             AudioEAC3,
		Aliases:          []string{"eac3", "ec-3"},
		Demuxable:        false,
		MPEGTSStreamType: StreamTypeEAC3,
	},
	AudioOpus: {
		Name:             AudioOpus,
		Aliases:          []string{"opus", "libopus"},
		Demuxable:        true,
		MPEGTSStreamType: 0,
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a string (codec name, alias, or encoder) to a Video codec.
// Returns the canonical codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	codec, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return codec, ok
}

// ParseAudio parses a string (codec name, alias, or encoder) to an Audio codec.
// Returns the canonical codec and whether the parse was successful.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	codec, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return codec, ok
}

// Normalize converts any codec string (encoder name, alias) to its canonical
// form. Returns the input unchanged if not recognized.
func Normalize(name string) string {
	if name == "" {
		return name
	}
	lower := strings.ToLower(name)
	if codec, ok := videoAliasIndex[lower]; ok {
		return string(codec)
	}
	if codec, ok := audioAliasIndex[lower]; ok {
		return string(codec)
	}
	return name
}

// GetVideoEncoder returns the FFmpeg encoder name for a video codec with the
// given hardware acceleration, falling back to the software encoder when the
// accelerator has no entry. Returns "" for decode-only codecs.
func GetVideoEncoder(v Video, hwaccel HWAccel) string {
	info, ok := videoRegistry[v]
	if !ok {
		return string(v) // Pass unknown names through to ffmpeg verbatim
	}
	if info.Encoders == nil {
		return ""
	}
	if encoder, ok := info.Encoders[hwaccel]; ok {
		return encoder
	}
	if encoder, ok := info.Encoders[HWAccelNone]; ok {
		return encoder
	}
	return string(v)
}

// IsDemuxable returns true if the video codec can be demuxed by mediacommon.
func (v Video) IsDemuxable() bool {
	info, ok := videoRegistry[v]
	if !ok {
		return true // Assume demuxable for unknown (most common codecs are)
	}
	return info.Demuxable
}

// IsDemuxable returns true if the audio codec can be demuxed by mediacommon.
func (a Audio) IsDemuxable() bool {
	info, ok := audioRegistry[a]
	if !ok {
		return false // Assume NOT demuxable for unknown (safer)
	}
	return info.Demuxable
}

// MPEGTSStreamType returns the MPEG-TS stream type for the video codec.
// Returns 0 if the codec has no standardized MPEG-TS carriage.
func (v Video) MPEGTSStreamType() uint8 {
	info, ok := videoRegistry[v]
	if !ok {
		return 0
	}
	return info.MPEGTSStreamType
}

// MPEGTSStreamType returns the MPEG-TS stream type for the audio codec.
func (a Audio) MPEGTSStreamType() uint8 {
	info, ok := audioRegistry[a]
	if !ok {
		return 0
	}
	return info.MPEGTSStreamType
}

// IsVideoDemuxable checks if a video codec string is demuxable by mediacommon.
func IsVideoDemuxable(codecName string) bool {
	codec, ok := ParseVideo(codecName)
	if !ok {
		return true
	}
	return codec.IsDemuxable()
}

// IsAudioDemuxable checks if an audio codec string is demuxable by mediacommon.
func IsAudioDemuxable(codecName string) bool {
	codec, ok := ParseAudio(codecName)
	if !ok {
		return false
	}
	return codec.IsDemuxable()
}

// ValidHWAccels returns a map of valid hardware acceleration types.
func ValidHWAccels() map[string]HWAccel {
	return map[string]HWAccel{
		"auto":         HWAccelAuto,
		"none":         HWAccelNone,
		"cuda":         HWAccelCUDA,
		"qsv":          HWAccelQSV,
		"vaapi":        HWAccelVAAPI,
		"videotoolbox": HWAccelVT,
	}
}

// ParseHWAccel parses a hardware acceleration string.
func ParseHWAccel(s string) (HWAccel, bool) {
	hw, ok := ValidHWAccels()[strings.ToLower(strings.TrimSpace(s))]
	return hw, ok
}

// FileFormat returns the ffmpeg muxer used when writing v to disk:
// MP4 for H.264/H.265, Matroska for VP8/VP9, AVI for anything
// uncompressed or unrecognized.
func FileFormat(v Video) OutputFormat {
	switch v {
	case VideoH264, VideoH265:
		return FormatMP4
	case VideoVP8, VideoVP9:
		return FormatMKV
	default:
		return FormatAVI
	}
}

// BitstreamFormat returns the self-delimiting ffmpeg output format for
// reading v's encoded stream back over a pipe: a start-code-delimited
// Annex B bytestream for H.264/H.265, IVF (explicit per-frame length
// headers) for VP8/VP9.
func BitstreamFormat(v Video) OutputFormat {
	switch v {
	case VideoH265:
		return FormatAnnexBHEVC
	case VideoVP8, VideoVP9:
		return FormatIVF
	default:
		return FormatAnnexB
	}
}

// ParseOutputFormat converts a string to OutputFormat.
func ParseOutputFormat(format string) OutputFormat {
	switch strings.ToLower(format) {
	case "mpegts", "ts":
		return FormatMPEGTS
	case "mp4":
		return FormatMP4
	case "matroska", "mkv":
		return FormatMKV
	case "avi":
		return FormatAVI
	case "ivf":
		return FormatIVF
	case "h264", "annexb":
		return FormatAnnexB
	case "hevc":
		return FormatAnnexBHEVC
	case "rawvideo":
		return FormatRawVideo
	default:
		return FormatUnknown
	}
}

// SupportedEncodingVideoCodecs returns the video codecs accepted as output
// encode targets.
func SupportedEncodingVideoCodecs() []Video {
	return []Video{VideoH264, VideoH265, VideoVP8, VideoVP9}
}
