package transcodemodule

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// rangeChunkSize is the read size for byte-range streaming.
const rangeChunkSize = 8 * 1024

// contentTypes maps file extensions to media content types.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".flv":  "video/x-flv",
	".wmv":  "video/x-ms-wmv",
}

// byteRange is a parsed, validated Range header.
type byteRange struct {
	start int64
	end   int64
}

// parseRangeHeader parses "bytes=start-end" against the file size. A
// missing end means file end. Returns ok=false for an unsatisfiable or
// malformed range.
func parseRangeHeader(header string, size int64) (byteRange, bool) {
	r := byteRange{start: 0, end: size - 1}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return r, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return r, false
	}

	if parts[0] != "" {
		start, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return r, false
		}
		r.start = start
	}
	if parts[1] != "" {
		end, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return r, false
		}
		r.end = end
	}

	if r.start >= size || r.end >= size || r.start > r.end || r.start < 0 {
		return r, false
	}
	return r, true
}

// streamMedia serves the file on disk with HTTP Range support for seeking.
func (m *Module) streamMedia(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid media ID"})
		return
	}

	var media database.MediaFile
	if err := m.db.First(&media, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Media file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	file, err := os.Open(media.FilePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Media file not found on disk"})
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to stat media file"})
		return
	}
	size := stat.Size()

	contentType := contentTypes[strings.ToLower(media.FileExtension)]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rangeHeader := c.GetHeader("Range")
	r := byteRange{start: 0, end: size - 1}
	status := http.StatusOK

	if rangeHeader != "" {
		parsed, ok := parseRangeHeader(rangeHeader, size)
		if !ok {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
			c.Status(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		r = parsed
		status = http.StatusPartialContent
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size))
	}

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentType)
	c.Header("Content-Length", strconv.FormatInt(r.end-r.start+1, 10))
	c.Status(status)

	if _, err := file.Seek(r.start, io.SeekStart); err != nil {
		return
	}

	remaining := r.end - r.start + 1
	buf := make([]byte, rangeChunkSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := file.Read(buf[:n])
		if read > 0 {
			if _, werr := c.Writer.Write(buf[:read]); werr != nil {
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}
