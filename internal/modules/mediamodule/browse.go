package mediamodule

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// browseEntry is one directory child in the admin library-path picker.
type browseEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// browseDirectory lists a directory for the admin UI's library-path picker.
// Hidden entries (dot prefix) are skipped here, unlike during scans, which
// consume every file with a matching extension.
func (m *Module) browseDirectory(c *gin.Context) {
	path := c.DefaultQuery("path", "/")
	if !filepath.IsAbs(path) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Path must be absolute"})
		return
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Directory not found"})
			return
		}
		if os.IsPermission(err) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Permission denied"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	out := make([]browseEntry, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, browseEntry{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})

	c.JSON(http.StatusOK, gin.H{"path": path, "entries": out})
}
