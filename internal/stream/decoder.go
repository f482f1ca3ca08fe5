// Package stream decodes newline-delimited event-stream text into protocol events.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Decoder drop reasons.
var (
	ErrInvalidJSON    = errors.New("frame payload is not valid JSON")
	ErrTruncatedFrame = errors.New("stream ended inside a frame")
)

// Frame is one complete (event-name, payload) pair.
type Frame struct {
	Event string
	Data  []byte
}

// String renders the frame the way it appeared on the wire.
func (f Frame) String() string {
	var b strings.Builder
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteString("\n")
	}
	b.WriteString("data: ")
	b.Write(f.Data)
	return b.String()
}

// DropFunc is called for every frame the decoder discards.
type DropFunc func(frame Frame, reason error)

// Decoder is a push/pull frame decoder: Feed appends raw bytes, Next drains
// whatever complete frames the buffered input contains. It never blocks and
// holds an incomplete trailing fragment until more input arrives.
type Decoder struct {
	buf []byte
	off int

	event   string
	data    []byte
	hasData bool

	// pending holds complete frames collected by Finish.
	pending []Frame

	onDrop  DropFunc
	decoded int
	dropped int
}

// NewDecoder returns an empty decoder. onDrop may be nil.
func NewDecoder(onDrop DropFunc) *Decoder {
	return &Decoder{onDrop: onDrop}
}

// Feed buffers a chunk of raw stream bytes.
func (d *Decoder) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete frame, or false when the buffered input
// holds no further complete frame.
func (d *Decoder) Next() (Frame, bool) {
	if len(d.pending) > 0 {
		frame := d.pending[0]
		d.pending = d.pending[1:]
		return frame, true
	}
	return d.next()
}

func (d *Decoder) next() (Frame, bool) {
	for {
		idx := bytes.IndexByte(d.buf[d.off:], '\n')
		if idx < 0 {
			return Frame{}, false
		}
		line := d.buf[d.off : d.off+idx]
		d.off += idx + 1
		line = bytes.TrimSuffix(line, []byte{'\r'})

		if len(line) > 0 {
			d.processLine(line)
			continue
		}

		if !d.hasData {
			d.event = ""
			continue
		}

		frame := Frame{Event: d.event, Data: d.data}
		d.resetFrame()

		if !json.Valid(frame.Data) {
			if frame.Event != "error" {
				d.drop(frame, ErrInvalidJSON)
				continue
			}
			// Plain-text error payloads are kept as the error message.
			wrapped, _ := json.Marshal(map[string]string{"error": strings.TrimSpace(string(frame.Data))})
			frame.Data = wrapped
		}

		d.decoded++
		return frame, true
	}
}

// Finish is called once the underlying stream has ended. Complete frames
// still buffered stay available to Next. A frame that was started but never
// terminated by a blank line is discarded; Finish reports whether that
// happened.
func (d *Decoder) Finish() bool {
	for {
		frame, ok := d.next()
		if !ok {
			break
		}
		d.pending = append(d.pending, frame)
	}

	if rest := bytes.TrimSuffix(d.buf[d.off:], []byte{'\r'}); len(rest) > 0 {
		d.processLine(rest)
	}
	d.buf = d.buf[:0]
	d.off = 0

	if !d.hasData && d.event == "" {
		return false
	}
	frame := Frame{Event: d.event, Data: d.data}
	d.resetFrame()
	d.drop(frame, ErrTruncatedFrame)
	return true
}

// Decoded returns how many frames were emitted.
func (d *Decoder) Decoded() int { return d.decoded }

// Dropped returns how many frames were discarded.
func (d *Decoder) Dropped() int { return d.dropped }

// Reset discards buffered input and any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
	d.pending = nil
	d.resetFrame()
}

func (d *Decoder) processLine(line []byte) {
	if line[0] == ':' {
		return
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field = line[:i]
		value = line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(field) {
	case "event":
		d.event = strings.TrimSpace(string(value))
	case "data":
		if d.hasData {
			d.data = append(d.data, '\n')
		}
		d.data = append(d.data, value...)
		d.hasData = true
	}
}

func (d *Decoder) resetFrame() {
	d.event = ""
	d.data = nil
	d.hasData = false
}

func (d *Decoder) drop(frame Frame, reason error) {
	d.dropped++
	if d.onDrop != nil {
		d.onDrop(frame, reason)
	}
}

// DropReason maps a drop error to a short metric label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, ErrTruncatedFrame):
		return "truncated"
	default:
		return "invalid_event"
	}
}
