package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"croquis-timer/src/messages"
	"croquis-timer/src/screenshot"
	"croquis-timer/src/worker"
)

// Grabber captures the whole virtual display. origin is the virtual-screen
// position of the image's top-left pixel.
type Grabber func() (img *image.RGBA, origin image.Point, err error)

// Sender delivers protocol messages. *router.Router implements it.
type Sender interface {
	SendTo(from, to string, m messages.Message) error
}

// maxCollisions bounds the "(n)" suffix search.
const maxCollisions = 10000

// Service is the capture actor. Each CaptureRequest is answered with exactly
// one CaptureCompleted carrying the request's window id.
type Service struct {
	sender Sender
	inbox  <-chan messages.MessageEnvelope
	pool   *worker.Pool
	grab   Grabber
}

// New creates a capture service. grab defaults to screenshot.CaptureDisplay.
func New(sender Sender, inbox <-chan messages.MessageEnvelope, pool *worker.Pool, grab Grabber) *Service {
	if grab == nil {
		grab = screenshot.CaptureDisplay
	}
	return &Service{sender: sender, inbox: inbox, pool: pool, grab: grab}
}

func (s *Service) Name() string { return messages.ProcessCapture }

// Run handles capture requests until ctx is done or DIENOW arrives.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.inbox:
			if !ok {
				return nil
			}
			switch msg := env.Message.(type) {
			case messages.CaptureRequest:
				s.submit(ctx, env.From, msg)
			case messages.DIENOW:
				log.Printf("Capture: received DIENOW")
				return nil
			default:
				log.Printf("Capture: unexpected message %s", env.Message.Type())
			}
		}
	}
}

func (s *Service) submit(ctx context.Context, replyTo string, req messages.CaptureRequest) {
	ok := s.pool.Submit(ctx, func(ctx context.Context) {
		path, err := s.capture(req)
		reply := messages.CaptureCompleted{WindowID: req.WindowID, Path: path}
		if err != nil {
			log.Printf("Capture: window %s failed: %v", req.WindowID, err)
			reply.Reason = err.Error()
		} else {
			log.Printf("Capture: window %s saved %s", req.WindowID, path)
		}
		s.reply(replyTo, reply)
	})
	if !ok {
		log.Printf("Capture: worker busy, rejecting window %s", req.WindowID)
		s.reply(replyTo, messages.CaptureCompleted{WindowID: req.WindowID, Reason: "capture busy"})
	}
}

func (s *Service) reply(to string, m messages.CaptureCompleted) {
	if err := s.sender.SendTo(messages.ProcessCapture, to, m); err != nil {
		log.Printf("Capture: failed to report window %s: %v", m.WindowID, err)
	}
}

// capture grabs, crops, encodes and writes one request.
func (s *Service) capture(req messages.CaptureRequest) (string, error) {
	img, origin, err := s.grab()
	if err != nil {
		return "", err
	}
	cropped, err := screenshot.Crop(img, origin, req.Rect)
	if err != nil {
		return "", err
	}
	data, err := screenshot.EncodePNG(cropped)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(req.SavePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create save directory: %w", err)
	}
	return WriteUnique(filepath.Join(req.SavePath, FileName(req.WindowID)), data)
}

// FileName is the base name of the capture for a window id.
func FileName(windowID string) string {
	return "capture_" + windowID + ".png"
}

// WriteUnique writes data to path, or to "name(n).ext" with the smallest
// n >= 1 that does not exist yet. It returns the path written.
func WriteUnique(path string, data []byte) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 1; n <= maxCollisions; n++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, err := f.Write(data); err != nil {
				f.Close()
				os.Remove(candidate)
				return "", fmt.Errorf("failed to write %s: %w", candidate, err)
			}
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("failed to close %s: %w", candidate, err)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s(%d)%s", base, n, ext)
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", path, maxCollisions)
}
