package codebuddy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// MaxLineSize bounds a single upstream SSE line.
const MaxLineSize = 50 * 1024 * 1024

// DoneFrame terminates an OpenAI chat-completion stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// StreamTranslator re-frames one upstream event stream as OpenAI chat-completion
// chunks. A translator owns its remapper and must not be reused across streams.
type StreamTranslator struct {
	remapper *ToolCallRemapper
	// OnChunk, when set, observes every decoded chunk before it is written.
	OnChunk func(*Chunk)
}

// NewStreamTranslator returns a translator with a fresh remapper.
func NewStreamTranslator() *StreamTranslator {
	return &StreamTranslator{remapper: NewToolCallRemapper()}
}

// Translate copies r to w line by line, in arrival order. Blank and ":" comment
// lines are dropped, data chunks are remapped and written as SSE frames, and
// any other line is forwarded verbatim. It returns nil at the [DONE] terminator
// or at end of input, and a non-nil error when reading fails or ctx ends.
func (t *StreamTranslator) Translate(ctx context.Context, r io.Reader, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
			continue
		}

		if IsDone(line) {
			if _, err := w.Write(DoneFrame); err != nil {
				return fmt.Errorf("codebuddy stream: write: %w", err)
			}
			flush(flusher)
			return nil
		}

		var err error
		if chunk := ParseLine(line); chunk != nil {
			if t.OnChunk != nil {
				t.OnChunk(chunk)
			}
			err = writeFrame(w, t.remapper.Remap(chunk))
		} else {
			_, err = w.Write(append(append(make([]byte, 0, len(line)+1), line...), '\n'))
		}
		if err != nil {
			return fmt.Errorf("codebuddy stream: write: %w", err)
		}
		flush(flusher)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("codebuddy stream: read: %w", err)
	}
	return ctx.Err()
}

// ForEachChunk decodes every data line of r and passes it to fn, stopping at the
// [DONE] terminator. Undecodable lines are skipped.
func ForEachChunk(ctx context.Context, r io.Reader, fn func(*Chunk) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if IsDone(line) {
			return nil
		}
		if chunk := ParseLine(line); chunk != nil {
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("codebuddy stream: read: %w", err)
	}
	return ctx.Err()
}

func writeFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(dataPrefix)+len(payload)+2)
	frame = append(frame, dataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	_, err := w.Write(frame)
	return err
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}
