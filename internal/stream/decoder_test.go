package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(d *Decoder) []Frame {
	var out []Frame
	for {
		f, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestDecoderSingleFrame(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: text_delta\ndata: {\"text\":\"Hi\"}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "text_delta", frames[0].Event)
	require.JSONEq(t, `{"text":"Hi"}`, string(frames[0].Data))
	require.Equal(t, 1, d.Decoded())
}

func TestDecoderHoldsPartialFrame(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: text_delta\nda"))
	require.Empty(t, drain(d))

	d.Feed([]byte("ta: {\"text\":\"Hi\"}\n"))
	require.Empty(t, drain(d))

	d.Feed([]byte("\n"))
	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "text_delta", frames[0].Event)
}

func TestDecoderCRLF(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: done\r\ndata: {}\r\n\r\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "done", frames[0].Event)
	require.Equal(t, "{}", string(frames[0].Data))
}

func TestDecoderCRLFSplitAcrossChunks(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: done\r"))
	d.Feed([]byte("\ndata: {}\r"))
	d.Feed([]byte("\n\r"))
	d.Feed([]byte("\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "done", frames[0].Event)
}

func TestDecoderMultipleDataLinesJoined(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: tool_result\ndata: {\"text\":\ndata: \"ok\"}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "{\"text\":\n\"ok\"}", string(frames[0].Data))
}

func TestDecoderSkipsComments(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte(": keepalive\n\n: another\nevent: done\ndata: {}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "done", frames[0].Event)
}

func TestDecoderBlankLineWithoutDataResetsEvent(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: orphan\n\ndata: {\"type\":\"done\"}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "", frames[0].Event)
}

func TestDecoderDropsInvalidJSONAndContinues(t *testing.T) {
	var dropped []Frame
	var reasons []error
	d := NewDecoder(func(f Frame, reason error) {
		dropped = append(dropped, f)
		reasons = append(reasons, reason)
	})
	d.Feed([]byte("event: text_delta\ndata: {not json\n\nevent: done\ndata: {}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "done", frames[0].Event)
	require.Len(t, dropped, 1)
	require.ErrorIs(t, reasons[0], ErrInvalidJSON)
	require.Equal(t, 1, d.Dropped())
}

func TestDecoderWrapsPlainTextError(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: error\ndata: upstream exploded \n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.JSONEq(t, `{"error":"upstream exploded"}`, string(frames[0].Data))
}

func TestDecoderFinishDropsUnterminatedFrame(t *testing.T) {
	var reason error
	d := NewDecoder(func(_ Frame, r error) { reason = r })
	d.Feed([]byte("event: done\ndata: {}"))

	require.Empty(t, drain(d))
	require.True(t, d.Finish())
	require.ErrorIs(t, reason, ErrTruncatedFrame)
	require.Empty(t, drain(d))
}

func TestDecoderFinishCleanStream(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: done\ndata: {}\n\n"))
	require.Len(t, drain(d), 1)
	require.False(t, d.Finish())
}

func TestDecoderFinishKeepsBufferedFrames(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: message_start\ndata: {}\n\nevent: done\ndata: {}\n\n"))

	require.False(t, d.Finish())
	frames := drain(d)
	require.Len(t, frames, 2)
	require.Equal(t, "message_start", frames[0].Event)
	require.Equal(t, "done", frames[1].Event)
	require.Zero(t, d.Dropped())
}

func TestDecoderFinishParsesOnlyTail(t *testing.T) {
	var dropped []Frame
	d := NewDecoder(func(f Frame, _ error) { dropped = append(dropped, f) })
	d.Feed([]byte("event: done\ndata: {}\n\nevent: error\ndata: {\"message\""))

	require.True(t, d.Finish())
	require.Len(t, dropped, 1)
	require.Equal(t, "error", dropped[0].Event)
	require.Equal(t, `{"message"`, string(dropped[0].Data))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "done", frames[0].Event)
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder(nil)
	d.Feed([]byte("event: done\ndata: {"))
	d.Reset()
	d.Feed([]byte("event: done\ndata: {}\n\n"))

	frames := drain(d)
	require.Len(t, frames, 1)
	require.Equal(t, "{}", string(frames[0].Data))
}

func TestDropReason(t *testing.T) {
	require.Equal(t, "invalid_json", DropReason(ErrInvalidJSON))
	require.Equal(t, "truncated", DropReason(ErrTruncatedFrame))
	require.Equal(t, "invalid_event", DropReason(nil))
}

func TestFrameString(t *testing.T) {
	f := Frame{Event: "done", Data: []byte("{}")}
	require.Equal(t, "event: done\ndata: {}", f.String())
}

func TestFrameRingWraps(t *testing.T) {
	r := NewFrameRing(2)
	r.Add(Frame{Event: "a"})
	r.Add(Frame{Event: "b"})
	r.Add(Frame{Event: "c"})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "b", snap[0].Event)
	require.Equal(t, "c", snap[1].Event)
}

func TestFrameRingNilSafe(t *testing.T) {
	var r *FrameRing
	r.Add(Frame{})
	require.Nil(t, r.Snapshot())
	require.Empty(t, r.Strings())
}
