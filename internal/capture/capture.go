// Package capture acquires camera frames for focus scoring and recording.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
)

// Frame is one captured camera frame: the decoded pixels for scoring and
// the original JPEG bytes for recording without re-encoding.
type Frame struct {
	Image image.Image
	JPEG  []byte
}

// FrameSource produces frames on demand.
type FrameSource interface {
	Grab(ctx context.Context) (Frame, error)
	Close() error
}

// MJPEGStream reads frames from an MJPEG HTTP stream
// (multipart/x-mixed-replace), the format served by mjpg-streamer and
// most IP microscope cameras. The connection is opened on the first Grab.
type MJPEGStream struct {
	url    string
	client *http.Client

	body  io.ReadCloser
	parts *multipart.Reader
}

// NewMJPEGStream returns a stream source for the given URL.
func NewMJPEGStream(url string) *MJPEGStream {
	return &MJPEGStream{
		url: url,
		client: &http.Client{
			// No overall timeout: the stream stays open for the whole sweep.
			// Per-grab deadlines come from the caller's context.
			Timeout: 0,
		},
	}
}

func (s *MJPEGStream) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("open stream %s: status %s", s.url, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("parse stream content type: %w", err)
	}
	if mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("stream %s is not MJPEG (content type %q)", s.url, mediaType)
	}

	s.body = resp.Body
	s.parts = multipart.NewReader(resp.Body, params["boundary"])
	debug.Info("Connected to camera stream %s", s.url)
	return nil
}

// Grab returns the next frame from the stream.
func (s *MJPEGStream) Grab(ctx context.Context) (Frame, error) {
	if s.parts == nil {
		if err := s.connect(ctx); err != nil {
			return Frame{}, err
		}
	}

	part, err := s.parts.NextPart()
	if err != nil {
		return Frame{}, fmt.Errorf("next stream part: %w", err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	debug.Trace("Grabbed %d byte frame", len(data))
	return Frame{Image: img, JPEG: data}, nil
}

// Close drops the stream connection. Grab reconnects if called again.
func (s *MJPEGStream) Close() error {
	s.parts = nil
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

// SnapshotSource grabs single JPEG snapshots from an HTTP endpoint, with an
// optional settle delay before each request. Used where the camera exposes
// /snapshot but no stream.
type SnapshotSource struct {
	URL    string
	Settle time.Duration
	Client *http.Client
}

// Grab fetches one snapshot.
func (s *SnapshotSource) Grab(ctx context.Context) (Frame, error) {
	if s.Settle > 0 {
		select {
		case <-time.After(s.Settle):
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("fetch snapshot: status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return Frame{Image: img, JPEG: data}, nil
}

// Close is a no-op; snapshots are one request each.
func (s *SnapshotSource) Close() error { return nil }
