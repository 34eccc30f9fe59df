package attendance

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoFrame means no new frame arrived since the last tick.
	ErrNoFrame = errors.New("no new frame")
	// ErrFramesClosed is returned when pushing to a closed source.
	ErrFramesClosed = errors.New("frame source closed")
)

// FrameSource feeds a scanning session. Open stands in for camera access.
type FrameSource interface {
	Open(ctx context.Context) error
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// LatestFrame keeps only the most recently pushed frame. Each pushed frame is
// handed out at most once.
type LatestFrame struct {
	mu    sync.Mutex
	open  bool
	frame []byte
	fresh bool
}

func NewLatestFrame() *LatestFrame { return &LatestFrame{} }

func (f *LatestFrame) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	f.frame, f.fresh = nil, false
	return nil
}

// Push replaces the buffered frame.
func (f *LatestFrame) Push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrFramesClosed
	}
	f.frame = append(f.frame[:0:0], frame...)
	f.fresh = true
	return nil
}

func (f *LatestFrame) Frame(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, ErrFramesClosed
	}
	if !f.fresh {
		return nil, ErrNoFrame
	}
	f.fresh = false
	return f.frame, nil
}

func (f *LatestFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.frame, f.fresh = nil, false
	return nil
}
