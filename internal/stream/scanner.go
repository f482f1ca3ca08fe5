package stream

import (
	"context"
	"errors"
	"io"

	"github.com/opencode-ai/streamctl/internal/models"
)

const defaultReadBuffer = 4096

// Scanner pulls typed events from an event-stream body. Each call to Next
// performs at most one read of the underlying reader before draining the
// frames that read completed, so cancellation is observed between reads.
type Scanner struct {
	r   io.Reader
	dec *Decoder
	buf []byte
	eof bool
	// finished is set once the decoder was told the stream ended.
	finished bool

	ring    *FrameRing
	onDrop  DropFunc
	onFrame func(Frame)
	dropped int
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithReadBuffer sets the size of each read.
func WithReadBuffer(size int) ScannerOption {
	return func(s *Scanner) {
		if size > 0 {
			s.buf = make([]byte, size)
		}
	}
}

// WithDropHandler receives frames discarded by the decoder or by event parsing.
func WithDropHandler(fn DropFunc) ScannerOption {
	return func(s *Scanner) {
		s.onDrop = fn
	}
}

// WithFrameHandler receives every decoded frame before it is parsed.
func WithFrameHandler(fn func(Frame)) ScannerOption {
	return func(s *Scanner) {
		s.onFrame = fn
	}
}

// WithFrameRing keeps the last n frames for diagnostics.
func WithFrameRing(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.ring = NewFrameRing(n)
		}
	}
}

// NewScanner wraps r.
func NewScanner(r io.Reader, opts ...ScannerOption) *Scanner {
	s := &Scanner{r: r}
	for _, opt := range opts {
		opt(s)
	}
	if s.buf == nil {
		s.buf = make([]byte, defaultReadBuffer)
	}
	s.dec = NewDecoder(s.drop)
	return s
}

// Next returns the next event. It returns io.EOF once the stream ended and
// every buffered frame was drained, and ctx.Err() if ctx is done before the
// next read.
func (s *Scanner) Next(ctx context.Context) (models.StreamEvent, error) {
	for {
		if frame, ok := s.dec.Next(); ok {
			s.ring.Add(frame)
			if s.onFrame != nil {
				s.onFrame(frame)
			}
			event, err := models.ParseStreamEvent(frame.Event, frame.Data)
			if err != nil {
				s.drop(frame, err)
				continue
			}
			return event, nil
		}

		if s.eof {
			if !s.finished {
				s.finished = true
				s.dec.Finish()
				continue
			}
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.dec.Feed(s.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			return nil, err
		}
	}
}

// Recent returns the last frames seen, oldest first.
func (s *Scanner) Recent() []string {
	return s.ring.Strings()
}

// Dropped returns how many frames were discarded so far.
func (s *Scanner) Dropped() int {
	return s.dropped
}

func (s *Scanner) drop(frame Frame, reason error) {
	s.dropped++
	if s.onDrop != nil {
		s.onDrop(frame, reason)
	}
}
