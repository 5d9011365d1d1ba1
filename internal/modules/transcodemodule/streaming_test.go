package transcodemodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangeHeader(t *testing.T) {
	const size = int64(1000)

	cases := []struct {
		name   string
		header string
		ok     bool
		start  int64
		end    int64
	}{
		{"full prefix", "bytes=0-", true, 0, 999},
		{"single byte", "bytes=0-0", true, 0, 0},
		{"middle", "bytes=100-199", true, 100, 199},
		{"open start", "bytes=-0", true, 0, 0},
		{"last byte", "bytes=999-", true, 999, 999},
		{"start at size", "bytes=1000-", false, 0, 0},
		{"end beyond size", "bytes=0-1000", false, 0, 0},
		{"inverted", "bytes=200-100", false, 0, 0},
		{"garbage", "bytes=abc-def", false, 0, 0},
		{"missing prefix", "0-100", false, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := parseRangeHeader(tc.header, size)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.start, r.start)
				assert.Equal(t, tc.end, r.end)
			}
		})
	}
}

func TestContentTypeMap(t *testing.T) {
	assert.Equal(t, "video/mp4", contentTypes[".mp4"])
	assert.Equal(t, "video/x-matroska", contentTypes[".mkv"])
	assert.Equal(t, "video/webm", contentTypes[".webm"])
	_, known := contentTypes[".txt"]
	assert.False(t, known)
}
