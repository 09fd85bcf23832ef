package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// maxFrameBytes bounds uploaded frames on POST /frames.
var maxFrameBytes int64 = 32 << 20

// SetMaxFrameBytes configures the frame upload limit (<=0 restores 32 MiB).
func SetMaxFrameBytes(n int64) {
	if n <= 0 {
		maxFrameBytes = 32 << 20
		return
	}
	maxFrameBytes = n
}

// maxFramePixels bounds the decoded size of a frame, checked before any
// pixel buffer is allocated.
var maxFramePixels int64 = 4096 * 4096

// SetMaxFramePixels configures the frame pixel limit (<=0 restores 4096x4096).
func SetMaxFramePixels(n int64) {
	if n <= 0 {
		maxFramePixels = 4096 * 4096
		return
	}
	maxFramePixels = n
}

// framePixelLimit is the tighter of the pixel limit and what fits in the
// frame byte limit as raw RGBA.
func framePixelLimit() int64 {
	if byBytes := maxFrameBytes / 4; byBytes < maxFramePixels {
		return byBytes
	}
	return maxFramePixels
}

// exportDir is where POST /display/export writes masks. Empty disables it.
var exportDir string

// SetExportDir configures the mask export directory.
func SetExportDir(dir string) { exportDir = dir }

// segmentTimeout bounds a whole /segment request. Zero disables it.
var segmentTimeout time.Duration

// SetSegmentTimeout sets the /segment timeout (negative normalizes to 0).
func SetSegmentTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	segmentTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
