package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chunks"
)

const maxLineBytes = 4 << 20

// NewSSEStream reads the canonical framing: "data: <json>" lines separated by blank
// lines, terminated by "data: [DONE]". A data line holding a complete JSON value is
// decoded immediately, so producers that omit the blank separator still work;
// multi-line payloads are joined until the next blank line.
func NewSSEStream(body io.ReadCloser) Stream {
	return &sseStream{lineReader: newLineReader(body)}
}

// NewNDJSONStream reads one JSON chunk per line. A bare "[DONE]" line ends the stream.
func NewNDJSONStream(body io.ReadCloser) Stream {
	return &ndjsonStream{lineReader: newLineReader(body)}
}

type lineReader struct {
	body io.ReadCloser
	r    *bufio.Reader
	done bool
}

func newLineReader(body io.ReadCloser) lineReader {
	return lineReader{body: body, r: bufio.NewReaderSize(body, 64*1024)}
}

// readLine returns the next line without its terminator and whether the body is exhausted.
func (l *lineReader) readLine(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	line, err := l.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		return "", false, errors.Wrap(err, "read stream")
	}
	if len(line) > maxLineBytes {
		log.Warn().Str("component", "transport").Int("bytes", len(line)).Msg("oversized stream line")
	}
	return strings.TrimRight(line, "\r\n"), errors.Is(err, io.EOF), nil
}

func (l *lineReader) Close() error {
	l.done = true
	if l.body == nil {
		return nil
	}
	return l.body.Close()
}

type sseStream struct {
	lineReader
	pending strings.Builder
	// held is a complete payload read while pending was still open. It is
	// decoded right after pending is flushed.
	held string
}

func (s *sseStream) Next(ctx context.Context) (chunks.Chunk, error) {
	for {
		if s.held != "" {
			payload := s.held
			s.held = ""
			if c, stop := s.decode(payload); stop || c != nil {
				return c, s.endErr(stop)
			}
		}
		if s.done {
			return nil, io.EOF
		}
		line, eof, err := s.readLine(ctx)
		if err != nil {
			return nil, err
		}

		if line != "" {
			payload, ok := chunks.SSEPayload(line)
			if ok {
				if isCompleteUnit(payload) {
					if s.pending.Len() > 0 {
						// an unterminated payload never joins a complete one
						s.held = payload
						pending := s.pending.String()
						s.pending.Reset()
						if c, stop := s.decode(pending); stop || c != nil {
							return c, s.endErr(stop)
						}
						continue
					}
					if c, stop := s.decode(payload); stop || c != nil {
						return c, s.endErr(stop)
					}
				} else {
					if s.pending.Len() > 0 {
						s.pending.WriteByte('\n')
					}
					s.pending.WriteString(payload)
				}
			}
		}

		if line == "" || eof {
			if s.pending.Len() > 0 {
				payload := s.pending.String()
				s.pending.Reset()
				if c, stop := s.decode(payload); stop || c != nil {
					return c, s.endErr(stop)
				}
			}
		}
		if eof {
			s.done = true
			return nil, io.EOF
		}
	}
}

func (s *sseStream) decode(payload string) (chunks.Chunk, bool) {
	c, err := chunks.Decode([]byte(payload))
	if errors.Is(err, chunks.ErrDone) {
		s.done = true
		return nil, true
	}
	return c, false
}

func (s *sseStream) endErr(stop bool) error {
	if stop {
		return io.EOF
	}
	return nil
}

func isCompleteUnit(payload string) bool {
	p := strings.TrimSpace(payload)
	return p == chunks.DoneToken || json.Valid([]byte(p))
}

type ndjsonStream struct {
	lineReader
}

func (s *ndjsonStream) Next(ctx context.Context) (chunks.Chunk, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		line, eof, err := s.readLine(ctx)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			c, err := chunks.Decode([]byte(line))
			if errors.Is(err, chunks.ErrDone) {
				s.done = true
				return nil, io.EOF
			}
			if c != nil {
				return c, nil
			}
		}
		if eof {
			s.done = true
			return nil, io.EOF
		}
	}
}

// SliceStream serves a fixed list of chunks. It is handy for fixtures and for
// transports that receive whole messages rather than byte streams.
type SliceStream struct {
	chunks []chunks.Chunk
	pos    int
	closed bool
}

func NewSliceStream(cs ...chunks.Chunk) *SliceStream {
	return &SliceStream{chunks: cs}
}

func (s *SliceStream) Next(ctx context.Context) (chunks.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
