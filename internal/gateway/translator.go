package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/af-corp/vllm-gateway/internal/config"
)

const (
	defaultChunkSize = 32 * 1024

	// Body readers return the same error on every call after a failure, so the
	// stream gives up after this many reads in a row have failed.
	maxConsecutiveReadErrors = 3

	readErrorFormat   = "[Gateway Error: Could not read chunk from backend: %v]"
	decodeErrorFormat = "[Gateway Error: Non-UTF8 data received: %v]"
	lineTooLongFormat = "[Gateway Error: Line exceeds %d bytes, discarded]"
)

var dataPrefix = []byte("data: ")

// Event is one unit of output delivered to the client.
type Event struct {
	Data string
	// Diagnostic is set for gateway-generated error notices.
	Diagnostic bool
}

type StreamOptions struct {
	ChunkSize    int
	MaxLineBytes int
	Logger       *slog.Logger
}

// Stream turns a backend response body into client events. Payload lines are those
// starting with "data: "; everything else is dropped. A line split across chunks is
// held back and emitted once it is complete.
type Stream struct {
	body   io.ReadCloser
	opts   StreamOptions
	logger *slog.Logger

	pending    []byte
	discarding bool
	consumed   bool
}

func NewStream(body io.ReadCloser, opts StreamOptions) *Stream {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = config.DefaultMaxLineBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{body: body, opts: opts, logger: logger}
}

// Events returns the lazy event sequence. It reads the body as the caller pulls
// events, ends when the backend closes the connection or ctx is done, and closes the
// body when iteration stops for any reason. A Stream can be iterated only once.
func (s *Stream) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.body.Close()

		buf := make([]byte, s.opts.ChunkSize)
		readErrors := 0
		for {
			if ctx.Err() != nil {
				return
			}

			n, err := s.body.Read(buf)
			if n > 0 {
				readErrors = 0
				if !s.consume(buf[:n], yield) {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				s.flush(yield)
				return
			}
			if ctx.Err() != nil {
				return
			}

			readErrors++
			if readErrors == 1 {
				if !s.diagnostic(fmt.Sprintf(readErrorFormat, err), yield) {
					return
				}
			}
			if readErrors >= maxConsecutiveReadErrors {
				s.logger.Error("giving up on backend stream", "error", err)
				return
			}
		}
	}
}

// consume appends a chunk to the partial line buffer and emits every completed line.
func (s *Stream) consume(chunk []byte, yield func(Event) bool) bool {
	if s.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return true
		}
		chunk = chunk[i+1:]
		s.discarding = false
	}

	s.pending = append(s.pending, chunk...)

	if i := bytes.LastIndexByte(s.pending, '\n'); i >= 0 {
		if !s.emitBlock(s.pending[:i+1], yield) {
			return false
		}
		n := copy(s.pending, s.pending[i+1:])
		s.pending = s.pending[:n]
	}

	if len(s.pending) > s.opts.MaxLineBytes {
		s.pending = s.pending[:0]
		s.discarding = true
		return s.diagnostic(fmt.Sprintf(lineTooLongFormat, s.opts.MaxLineBytes), yield)
	}
	return true
}

// flush emits a final line that was not newline-terminated.
func (s *Stream) flush(yield func(Event) bool) {
	if len(s.pending) == 0 || s.discarding {
		return
	}
	s.emitBlock(s.pending, yield)
	s.pending = s.pending[:0]
}

// emitBlock decodes a run of complete lines and yields one event per data line.
func (s *Stream) emitBlock(block []byte, yield func(Event) bool) bool {
	if !utf8.Valid(block) {
		return s.diagnostic(fmt.Sprintf(decodeErrorFormat, invalidUTF8(block)), yield)
	}

	for len(block) > 0 {
		var line []byte
		line, block, _ = bytes.Cut(block, []byte{'\n'})
		line = bytes.TrimSuffix(line, []byte{'\r'})

		payload, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		if !yield(Event{Data: strings.TrimSpace(string(payload))}) {
			return false
		}
	}
	return true
}

func (s *Stream) diagnostic(msg string, yield func(Event) bool) bool {
	s.logger.Error(msg)
	return yield(Event{Data: msg, Diagnostic: true})
}

// invalidUTF8 describes the first invalid sequence in b.
func invalidUTF8(b []byte) error {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return fmt.Errorf("invalid utf-8 sequence at byte %d", i)
		}
		i += size
	}
	return errors.New("invalid utf-8")
}
