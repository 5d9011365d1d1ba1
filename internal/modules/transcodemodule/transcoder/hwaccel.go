package transcoder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// hwProbeTimeout bounds each dummy-encode availability test.
const hwProbeTimeout = 10 * time.Second

// HardwareAccel detects and caches the host's hardware encoder support.
// Detection runs tiny dummy encodes once; results are reused for the
// process lifetime.
type HardwareAccel struct {
	ffmpegPath string
	log        hclog.Logger

	mu             sync.Mutex
	detected       bool
	nvencAvailable bool
	qsvAvailable   bool
	vaapiAvailable bool
	vaapiDevice    string
}

// NewHardwareAccel creates a detector for the given ffmpeg binary.
func NewHardwareAccel(ffmpegPath string, log hclog.Logger) *HardwareAccel {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &HardwareAccel{ffmpegPath: ffmpegPath, log: log}
}

// Detect probes encoder availability. Safe to call repeatedly; only the
// first call does work.
func (h *HardwareAccel) Detect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detected {
		return
	}
	h.detected = true

	ctx, cancel := context.WithTimeout(context.Background(), hwProbeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, h.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		h.log.Warn("hardware acceleration detection failed", "error", err)
		return
	}
	encoders := string(output)

	if strings.Contains(encoders, "h264_nvenc") && h.testEncoder("h264_nvenc") {
		h.nvencAvailable = true
		h.log.Info("NVENC hardware acceleration available")
	}
	if strings.Contains(encoders, "h264_qsv") && h.testEncoder("h264_qsv") {
		h.qsvAvailable = true
		h.log.Info("Intel Quick Sync hardware acceleration available")
	}
	if strings.Contains(encoders, "h264_vaapi") {
		if device := detectVAAPIDevice(); device != "" && h.testVAAPIEncoder(device) {
			h.vaapiAvailable = true
			h.vaapiDevice = device
			h.log.Info("VAAPI hardware acceleration available", "device", device)
		}
	}

	if !h.nvencAvailable && !h.qsvAvailable && !h.vaapiAvailable {
		h.log.Info("no hardware acceleration available, using software encoding")
	}
}

// VAAPIDevice returns the detected render device, or "" without VAAPI.
func (h *HardwareAccel) VAAPIDevice() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.vaapiAvailable {
		return h.vaapiDevice
	}
	return ""
}

// VideoEncoder returns the best encoder name for a codec plus its preset
// arguments. "copy" passes through untouched. Preference order:
// NVENC > QuickSync > VAAPI > software.
func (h *HardwareAccel) VideoEncoder(codec string) (string, []string) {
	if codec == "copy" {
		return "copy", nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch codec {
	case "h264", "libx264":
		if h.nvencAvailable {
			return "h264_nvenc", []string{"-preset", "p4", "-tune", "ll"}
		}
		if h.qsvAvailable {
			return "h264_qsv", []string{"-preset", "faster"}
		}
		if h.vaapiAvailable {
			return "h264_vaapi", nil
		}
		return "libx264", []string{"-preset", "veryfast", "-profile:v", "high", "-level", "4.1"}

	case "hevc", "h265", "libx265":
		if h.nvencAvailable {
			return "hevc_nvenc", []string{"-preset", "p4", "-tune", "ll"}
		}
		if h.qsvAvailable {
			return "hevc_qsv", []string{"-preset", "faster"}
		}
		if h.vaapiAvailable {
			return "hevc_vaapi", nil
		}
		return "libx265", []string{"-preset", "veryfast"}
	}

	return codec, nil
}

// testEncoder runs a sub-100ms dummy encode to verify the encoder actually
// works on this host, not just that ffmpeg lists it.
func (h *HardwareAccel) testEncoder(encoder string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), hwProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpegPath,
		"-hide_banner",
		"-f", "lavfi",
		"-i", "color=black:s=64x64:d=0.1",
		"-frames:v", "1",
		"-c:v", encoder,
		"-f", "null",
		"-",
	)
	return cmd.Run() == nil
}

func (h *HardwareAccel) testVAAPIEncoder(device string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), hwProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpegPath,
		"-hide_banner",
		"-vaapi_device", device,
		"-f", "lavfi",
		"-i", "color=black:s=64x64:d=0.1",
		"-vf", "format=nv12,hwupload",
		"-frames:v", "1",
		"-c:v", "h264_vaapi",
		"-f", "null",
		"-",
	)
	return cmd.Run() == nil
}

// detectVAAPIDevice finds the first render node under /dev/dri.
func detectVAAPIDevice() string {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return ""
	}

	var devices []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			devices = append(devices, filepath.Join("/dev/dri", entry.Name()))
		}
	}
	sort.Strings(devices)
	if len(devices) > 0 {
		return devices[0]
	}
	return ""
}
