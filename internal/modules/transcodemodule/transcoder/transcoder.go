// Package transcoder manages child ffmpeg processes for HLS delivery:
// remux, audio-only transcode, and full transcode with optional subtitle
// burn-in. Each session owns a working directory named by its job id.
package transcoder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/NicolasFerec/ferelix-server/internal/events"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

const (
	// remuxReadyTimeout bounds the wait for a remux playlist to appear.
	remuxReadyTimeout = 15 * time.Second
	// transcodeReadyTimeout bounds the wait for a transcode playlist.
	transcodeReadyTimeout = 30 * time.Second
	// stopBudget is the total graceful-shutdown window per session.
	stopBudget = 10 * time.Second
	// startFailureWindow: an encoder exiting this fast is a start failure.
	startFailureWindow = 100 * time.Millisecond
	// stderrTail bounds the retained stderr lines per session.
	stderrTail = 200
)

// Manager spawns and supervises encoder sessions.
type Manager struct {
	db         *gorm.DB
	bus        events.EventBus
	log        hclog.Logger
	workDir    string
	ffmpegPath string
	hw         *HardwareAccel

	mu     sync.Mutex
	active map[string]*session
}

type session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{} // closed when the monitor observed process exit

	mu     sync.Mutex
	stderr []string
}

func (s *session) appendStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stderr = append(s.stderr, line)
	if len(s.stderr) > stderrTail {
		s.stderr = s.stderr[len(s.stderr)-stderrTail:]
	}
}

func (s *session) stderrLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.stderr))
	copy(out, s.stderr)
	return out
}

// NewManager creates a transcoder manager rooted at workDir.
func NewManager(db *gorm.DB, bus events.EventBus, log hclog.Logger, workDir, ffmpegPath string) (*Manager, error) {
	if workDir == "" {
		workDir = "/tmp/ferelix-transcode"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcode work dir: %w", err)
	}

	m := &Manager{
		db:         db,
		bus:        bus,
		log:        log,
		workDir:    workDir,
		ffmpegPath: ffmpegPath,
		hw:         NewHardwareAccel(ffmpegPath, log.Named("hwaccel")),
		active:     make(map[string]*session),
	}
	m.hw.Detect()
	return m, nil
}

// WorkDir returns the transcode working root.
func (m *Manager) WorkDir() string {
	return m.workDir
}

// JobDir returns the working directory for a job id.
func (m *Manager) JobDir(jobID string) string {
	return filepath.Join(m.workDir, jobID)
}

// StartHLSTranscode starts a transcoding HLS session and returns the
// playlist path once the manifest exists or the readiness timeout elapses.
func (m *Manager) StartHLSTranscode(jobID string, media *database.MediaFile, params HLSParams) (string, error) {
	jobDir := m.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}

	playlistPath := filepath.Join(jobDir, "playlist.m3u8")
	segmentPattern := filepath.Join(jobDir, "segment_%03d.ts")

	// Image-codec subtitles must be burned in; text codecs are delivered
	// separately as WebVTT.
	burnSubtitle := false
	if params.SubtitleStreamIndex != nil {
		for i := range media.SubtitleTracks {
			track := &media.SubtitleTracks[i]
			if track.StreamIndex == *params.SubtitleStreamIndex {
				burnSubtitle = IsImageSubtitle(track.Codec)
				break
			}
		}
	}

	args := m.buildHLSCommand(media.FilePath, playlistPath, segmentPattern, params, burnSubtitle)

	updates := map[string]interface{}{
		"status":        database.TranscodingStatusRunning,
		"started_at":    time.Now().UTC(),
		"ffmpeg_command": m.ffmpegPath + " " + strings.Join(args, " "),
		"output_path":   jobDir,
		"playlist_path": playlistPath,
		"video_codec":   params.VideoCodec,
		"audio_codec":   params.AudioCodec,
		"start_time":    params.StartTime,
	}
	if params.VideoBitrate > 0 {
		updates["video_bitrate"] = params.VideoBitrate
	}
	if params.AudioBitrate > 0 {
		updates["audio_bitrate"] = params.AudioBitrate
	}
	if params.MaxWidth > 0 {
		updates["max_width"] = params.MaxWidth
	}
	if params.MaxHeight > 0 {
		updates["max_height"] = params.MaxHeight
	}
	if err := m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return "", err
	}

	duration := 0.0
	if media.Duration != nil {
		duration = *media.Duration
	}

	if err := m.spawn(jobID, args, duration, params.StartTime); err != nil {
		return "", err
	}

	m.publish(events.EventTranscodeStarted, jobID, nil)
	return m.waitForPlaylist(jobID, playlistPath, transcodeReadyTimeout)
}

// StartRemuxHLS starts a remux session (container change only).
func (m *Manager) StartRemuxHLS(jobID string, media *database.MediaFile, params RemuxParams) (string, error) {
	jobDir := m.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}

	playlistPath := filepath.Join(jobDir, "playlist.m3u8")
	segmentPattern := filepath.Join(jobDir, "segment_%03d.ts")

	args := m.buildRemuxCommand(media.FilePath, playlistPath, segmentPattern, params)

	err := m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":        database.TranscodingStatusRunning,
		"started_at":    time.Now().UTC(),
		"ffmpeg_command": m.ffmpegPath + " " + strings.Join(args, " "),
		"output_path":   jobDir,
		"playlist_path": playlistPath,
		"video_codec":   "copy",
		"audio_codec":   "copy",
		"start_time":    params.StartTime,
	}).Error
	if err != nil {
		return "", err
	}

	duration := 0.0
	if media.Duration != nil {
		duration = *media.Duration
	}

	if err := m.spawn(jobID, args, duration, params.StartTime); err != nil {
		return "", err
	}

	m.publish(events.EventTranscodeStarted, jobID, nil)
	return m.waitForPlaylist(jobID, playlistPath, remuxReadyTimeout)
}

// StartAudioTranscodeHLS copies the video stream and re-encodes only audio.
func (m *Manager) StartAudioTranscodeHLS(jobID string, media *database.MediaFile, params HLSParams) (string, error) {
	params.VideoCodec = "copy"
	if params.AudioCodec == "" {
		params.AudioCodec = "aac"
	}
	return m.StartHLSTranscode(jobID, media, params)
}

// spawn starts the encoder, verifies it survives the start window, stores
// the pid, and launches the progress monitor.
func (m *Manager) spawn(jobID string, args []string, totalDuration, startOffset float64) error {
	cmd := exec.Command(m.ffmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrEncoderFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrEncoderFailed, err)
	}
	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		m.markFailed(jobID, fmt.Sprintf("failed to start ffmpeg: %v", err))
		return fmt.Errorf("%w: %v", apperrors.ErrEncoderFailed, err)
	}

	sess := &session{cmd: cmd, stdin: stdin, done: make(chan struct{})}

	m.mu.Lock()
	m.active[jobID] = sess
	m.mu.Unlock()

	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).
		Update("process_id", cmd.Process.Pid)

	go m.monitor(jobID, sess, stderr, totalDuration, startOffset)

	// An immediate exit is a start failure: bad arguments, unreadable
	// input, or a missing encoder.
	select {
	case <-sess.done:
		detail := strings.Join(meaningfulErrorLines(sess.stderrLines()), "\n")
		m.markFailed(jobID, "encoder exited immediately: "+detail)
		return fmt.Errorf("%w: encoder exited immediately", apperrors.ErrEncoderFailed)
	case <-time.After(startFailureWindow):
	}

	m.log.Debug("encoder started", "job_id", jobID, "pid", cmd.Process.Pid)
	return nil
}

// monitor reads encoder stderr line by line, publishing progress, then
// records the terminal state when the process exits.
func (m *Manager) monitor(jobID string, sess *session, stderr io.Reader, totalDuration, startOffset float64) {
	defer close(sess.done)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	scanner.Split(scanCRLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sess.appendStderr(line)

		if update := parseProgressLine(line, totalDuration, startOffset); update != nil {
			m.recordProgress(jobID, update)
		}
	}

	err := sess.cmd.Wait()

	m.mu.Lock()
	// Stop() removes the session before killing; if it is already gone the
	// terminal state belongs to the canceller.
	_, owned := m.active[jobID]
	delete(m.active, jobID)
	m.mu.Unlock()

	if !owned {
		return
	}

	if err == nil {
		m.markCompleted(jobID)
		return
	}
	detail := strings.Join(meaningfulErrorLines(sess.stderrLines()), "\n")
	m.markFailed(jobID, fmt.Sprintf("ffmpeg exited abnormally: %v\n%s", err, detail))
}

// scanCRLines splits on both \n and \r, since ffmpeg rewrites its progress
// line with carriage returns.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// recordProgress persists a progress sample and fans it out on the bus.
func (m *Manager) recordProgress(jobID string, update *ProgressUpdate) {
	values := map[string]interface{}{
		"last_accessed_at": time.Now().UTC(),
	}
	if update.ProgressPercent != nil {
		values["progress_percent"] = *update.ProgressPercent
	}
	if update.TranscodedDuration != nil {
		values["transcoded_duration"] = *update.TranscodedDuration
	}
	if update.CurrentFPS != nil {
		values["current_fps"] = *update.CurrentFPS
	}
	if update.CurrentBitrate != nil {
		values["current_bitrate"] = *update.CurrentBitrate
	}
	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(values)

	data := map[string]interface{}{"job_id": jobID}
	if update.ProgressPercent != nil {
		data["progress_percent"] = *update.ProgressPercent
	}
	if update.TranscodedDuration != nil {
		data["transcoded_duration"] = *update.TranscodedDuration
	}
	m.publish(events.EventTranscodeProgress, jobID, data)
}

// Stop gracefully stops a session: "q" on stdin, SIGTERM, then SIGKILL
// within the stop budget. The working directory is removed immediately.
func (m *Manager) Stop(jobID string) bool {
	m.mu.Lock()
	sess, ok := m.active[jobID]
	if ok {
		// Claim the session so the monitor leaves terminal state to us.
		delete(m.active, jobID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	// Ask for a clean flush first.
	if sess.stdin != nil {
		_, _ = io.WriteString(sess.stdin, "q\n")
		_ = sess.stdin.Close()
	}

	select {
	case <-sess.done:
	case <-time.After(stopBudget / 2):
		_ = sess.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-sess.done:
		case <-time.After(stopBudget / 2):
			_ = sess.cmd.Process.Kill()
			<-sess.done
		}
	}

	now := time.Now().UTC()
	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       database.TranscodingStatusCancelled,
		"completed_at": now,
	})
	m.publish(events.EventTranscodeCompleted, jobID, map[string]interface{}{"status": "cancelled"})

	if err := os.RemoveAll(m.JobDir(jobID)); err != nil {
		m.log.Warn("failed to remove job dir", "job_id", jobID, "error", err)
	}

	m.log.Info("transcoding session stopped", "job_id", jobID)
	return true
}

// StopAll stops every active session (server shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// ActiveSessions returns the ids of sessions with a live encoder.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// waitForPlaylist blocks until the playlist exists or the timeout elapses.
// On timeout with a live encoder the path is still returned; the client
// retries the manifest. A failed job surfaces its captured error.
func (m *Manager) waitForPlaylist(jobID, playlistPath string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(playlistPath); err == nil {
			return playlistPath, nil
		}

		var job database.TranscodingJob
		if err := m.db.First(&job, "id = ?", jobID).Error; err == nil && job.Status == database.TranscodingStatusFailed {
			detail := ""
			if job.ErrorMessage != nil {
				detail = *job.ErrorMessage
			}
			return "", fmt.Errorf("%w: %s", apperrors.ErrEncoderFailed, detail)
		}

		if time.Now().After(deadline) {
			m.log.Warn("playlist not ready before timeout", "job_id", jobID)
			return playlistPath, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (m *Manager) markCompleted(jobID string) {
	now := time.Now().UTC()
	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":           database.TranscodingStatusCompleted,
		"completed_at":     now,
		"progress_percent": 100.0,
	})
	m.publish(events.EventTranscodeCompleted, jobID, map[string]interface{}{"status": "completed"})
	m.log.Info("transcoding completed", "job_id", jobID)
}

func (m *Manager) markFailed(jobID, message string) {
	now := time.Now().UTC()
	m.db.Model(&database.TranscodingJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":        database.TranscodingStatusFailed,
		"completed_at":  now,
		"error_message": message,
	})
	m.publish(events.EventTranscodeFailed, jobID, map[string]interface{}{"error": message})
	m.log.Error("transcoding failed", "job_id", jobID, "error", message)
}

func (m *Manager) publish(eventType events.EventType, jobID string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{"job_id": jobID}
	} else {
		data["job_id"] = jobID
	}
	m.bus.Publish(events.Event{Type: eventType, Source: "transcoder", Data: data})
}
