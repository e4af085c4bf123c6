// Package ffmpeg provides source and encoders backed by ffmpeg and ffprobe
// subprocesses.
//
// Samples are exchanged with ffmpeg as interleaved little-endian float64
// values through standard input and output. Both binaries must be
// available on PATH unless other locations are provided with options.
package ffmpeg

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"

	"github.com/pipelined/phonic"
)

// Default binaries.
const (
	DefaultFFmpeg  = "ffmpeg"
	DefaultFFprobe = "ffprobe"
)

// rawFormat is the format of samples exchanged with ffmpeg.
const rawFormat = "f64le"

// bytesPerSample of rawFormat.
const bytesPerSample = 8

// commandLine returns printable command line.
func commandLine(cmd *exec.Cmd) string {
	return strings.Join(cmd.Args, " ")
}

// processError wraps failure of encoding subprocess.
func processError(msg string, cmd *exec.Cmd, stderr *buffer, err error) error {
	return &phonic.EncodeProcessError{
		Message: msg,
		Command: commandLine(cmd),
		Stderr:  stderr.String(),
		Err:     err,
	}
}

// buffer is a bytes.Buffer safe for concurrent use. exec copies stderr
// in its own goroutine.
type buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
