package mediamodule

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func browseRequest(t *testing.T, m *Module, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/browse", m.browseDirectory)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/browse?path="+path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestBrowseSkipsHiddenEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "movies"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	m := &Module{}
	w := browseRequest(t, m, dir)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Entries []browseEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	require.Len(t, body.Entries, 2)
	// Directories sort first.
	assert.Equal(t, "movies", body.Entries[0].Name)
	assert.True(t, body.Entries[0].IsDir)
	assert.Equal(t, "a.mp4", body.Entries[1].Name)
}

func TestBrowseRejectsRelativePath(t *testing.T) {
	m := &Module{}
	w := browseRequest(t, m, "relative/path")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBrowseMissingDirectory(t *testing.T) {
	m := &Module{}
	w := browseRequest(t, m, filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
