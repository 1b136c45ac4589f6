// Package video records sweep frames as an MJPEG file.
package video

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
)

// Writer appends JPEG frames to a raw MJPEG file (back-to-back JPEG images,
// the container-less format ffmpeg and VLC play directly and mjpg-streamer
// produces). Safe for use from one goroutine at a time per method.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	buf    *bufio.Writer
	frames int
}

// Create opens path for writing, truncating any previous recording.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create video file: %w", err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f)}, nil
}

// WriteFrame appends one JPEG frame. The data must be a complete JPEG image
// (starting with the SOI marker).
func (w *Writer) WriteFrame(jpegData []byte) error {
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return fmt.Errorf("frame %d is not a JPEG image", w.frames)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return fmt.Errorf("video writer is closed")
	}
	if _, err := w.buf.Write(jpegData); err != nil {
		return fmt.Errorf("write frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	w.buf = nil
	debug.Info("Recorded %d frames to %s", w.frames, w.f.Name())
	if flushErr != nil {
		return fmt.Errorf("flush video file: %w", flushErr)
	}
	return closeErr
}
