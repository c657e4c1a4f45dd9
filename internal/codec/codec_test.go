package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideo(t *testing.T) {
	tests := []struct {
		input    string
		expected Video
		ok       bool
	}{
		{"h264", VideoH264, true},
		{"H264", VideoH264, true},
		{"avc", VideoH264, true},
		{"avc1", VideoH264, true},
		{"libx264", VideoH264, true},
		{"h264_nvenc", VideoH264, true},
		{"h265", VideoH265, true},
		{"hevc", VideoH265, true},
		{"hvc1", VideoH265, true},
		{"libx265", VideoH265, true},
		{"vp8", VideoVP8, true},
		{"libvpx", VideoVP8, true},
		{"vp9", VideoVP9, true},
		{"libvpx-vp9", VideoVP9, true},
		{"mpeg1video", VideoMPEG1, true},
		{"mpeg2video", VideoMPEG2, true},
		{"mpeg4", VideoMPEG4, true},
		{"  h264  ", VideoH264, true},
		{"", "", false},
		{"av1", "", false},
		{"not-a-codec", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVideo(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestParseAudio(t *testing.T) {
	tests := []struct {
		input    string
		expected Audio
		ok       bool
	}{
		{"aac", AudioAAC, true},
		{"mp4a", AudioAAC, true},
		{"ac3", AudioAC3, true},
		{"ac-3", AudioAC3, true},
		{"eac3", AudioEAC3, true},
		{"ec-3", AudioEAC3, true},
		{"mp3", AudioMP3, true},
		{"opus", AudioOpus, true},
		{"", "", false},
		{"dts", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseAudio(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "h264", Normalize("libx264"))
	assert.Equal(t, "h265", Normalize("hevc_vaapi"))
	assert.Equal(t, "aac", Normalize("mp4a"))
	assert.Equal(t, "unknown-thing", Normalize("unknown-thing"))
	assert.Equal(t, "", Normalize(""))
}

func TestGetVideoEncoder_SoftwareDefaults(t *testing.T) {
	assert.Equal(t, "libx264", GetVideoEncoder(VideoH264, HWAccelNone))
	assert.Equal(t, "libx265", GetVideoEncoder(VideoH265, HWAccelNone))
	assert.Equal(t, "libvpx", GetVideoEncoder(VideoVP8, HWAccelNone))
	assert.Equal(t, "libvpx-vp9", GetVideoEncoder(VideoVP9, HWAccelNone))
}

func TestGetVideoEncoder_HardwareSelection(t *testing.T) {
	assert.Equal(t, "h264_nvenc", GetVideoEncoder(VideoH264, HWAccelCUDA))
	assert.Equal(t, "hevc_qsv", GetVideoEncoder(VideoH265, HWAccelQSV))
	assert.Equal(t, "vp9_vaapi", GetVideoEncoder(VideoVP9, HWAccelVAAPI))
}

func TestGetVideoEncoder_FallsBackToSoftware(t *testing.T) {
	// VP8 has no hardware encoder entries at all.
	assert.Equal(t, "libvpx", GetVideoEncoder(VideoVP8, HWAccelCUDA))
	// VP9 has no CUDA entry specifically.
	assert.Equal(t, "libvpx-vp9", GetVideoEncoder(VideoVP9, HWAccelCUDA))
}

func TestGetVideoEncoder_DecodeOnlyCodecs(t *testing.T) {
	assert.Equal(t, "", GetVideoEncoder(VideoMPEG2, HWAccelNone))
	assert.Equal(t, "", GetVideoEncoder(VideoMPEG1, HWAccelNone))
}

func TestGetVideoEncoder_UnknownPassthrough(t *testing.T) {
	assert.Equal(t, "something-custom", GetVideoEncoder(Video("something-custom"), HWAccelNone))
}

func TestMPEGTSStreamTypes(t *testing.T) {
	assert.Equal(t, uint8(0x1B), VideoH264.MPEGTSStreamType())
	assert.Equal(t, uint8(0x24), VideoH265.MPEGTSStreamType())
	assert.Equal(t, uint8(0x02), VideoMPEG2.MPEGTSStreamType())
	assert.Equal(t, uint8(0), VideoVP8.MPEGTSStreamType())
	assert.Equal(t, uint8(0), VideoVP9.MPEGTSStreamType())

	assert.Equal(t, uint8(0x0F), AudioAAC.MPEGTSStreamType())
	assert.Equal(t, uint8(0x81), AudioAC3.MPEGTSStreamType())
	assert.Equal(t, uint8(0x87), AudioEAC3.MPEGTSStreamType())
}

func TestParseHWAccel(t *testing.T) {
	hw, ok := ParseHWAccel("cuda")
	require.True(t, ok)
	assert.Equal(t, HWAccelCUDA, hw)

	hw, ok = ParseHWAccel("  VAAPI ")
	require.True(t, ok)
	assert.Equal(t, HWAccelVAAPI, hw)

	_, ok = ParseHWAccel("opencl")
	assert.False(t, ok)
}

func TestFileFormat(t *testing.T) {
	assert.Equal(t, FormatMP4, FileFormat(VideoH264))
	assert.Equal(t, FormatMP4, FileFormat(VideoH265))
	assert.Equal(t, FormatMKV, FileFormat(VideoVP8))
	assert.Equal(t, FormatMKV, FileFormat(VideoVP9))
	assert.Equal(t, FormatAVI, FileFormat(Video("raw")))
}

func TestBitstreamFormat(t *testing.T) {
	assert.Equal(t, FormatAnnexB, BitstreamFormat(VideoH264))
	assert.Equal(t, FormatAnnexBHEVC, BitstreamFormat(VideoH265))
	assert.Equal(t, FormatIVF, BitstreamFormat(VideoVP8))
	assert.Equal(t, FormatIVF, BitstreamFormat(VideoVP9))
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected OutputFormat
	}{
		{"mpegts", FormatMPEGTS},
		{"ts", FormatMPEGTS},
		{"mp4", FormatMP4},
		{"matroska", FormatMKV},
		{"mkv", FormatMKV},
		{"avi", FormatAVI},
		{"ivf", FormatIVF},
		{"h264", FormatAnnexB},
		{"hevc", FormatAnnexBHEVC},
		{"rawvideo", FormatRawVideo},
		{"hls", FormatUnknown},
		{"", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseOutputFormat(tt.input))
		})
	}
}

func TestSupportedEncodingVideoCodecs(t *testing.T) {
	supported := SupportedEncodingVideoCodecs()
	assert.ElementsMatch(t, []Video{VideoH264, VideoH265, VideoVP8, VideoVP9}, supported)

	for _, v := range supported {
		assert.NotEmpty(t, GetVideoEncoder(v, HWAccelNone), "every encode target needs a software encoder")
	}
}

func TestVideoDemuxability(t *testing.T) {
	assert.True(t, IsVideoDemuxable("h264"))
	assert.True(t, IsVideoDemuxable("mpeg2video"))
	assert.False(t, IsVideoDemuxable("vp8"))
	assert.False(t, IsVideoDemuxable("vp9"))
}
