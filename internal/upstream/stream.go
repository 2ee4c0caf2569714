package upstream

import (
	"bufio"
	"context"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const initialLineBuffer = 64 * 1024

// Fragment is one non-empty piece of model output.
type Fragment struct {
	Content string
	// ChunkCount counts every parsed JSON chunk so far, including ones
	// without content.
	ChunkCount int
}

// Stream is an open upstream response. It is single use.
type Stream struct {
	body     io.ReadCloser
	parent   context.Context
	exchange context.Context
	cancel   context.CancelFunc

	maxLineSize int
	logger      zerolog.Logger

	chunkCount   int
	finishReason string

	closeOnce sync.Once
}

// Fragments yields content fragments in arrival order. Every `data:` line is
// handled as soon as it is read; blank lines and other fields are ignored.
// The sequence ends without error on [DONE] or a stop/length finish_reason.
// Any other end is yielded as a final error, an *Error unless the caller's
// context was cancelled. The stream is closed when iteration stops.
func (s *Stream) Fragments() iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		defer s.Close()

		scanner := bufio.NewScanner(s.body)
		scanner.Buffer(make([]byte, 0, min(initialLineBuffer, s.maxLineSize)), s.maxLineSize)

		for scanner.Scan() {
			data, ok := dataField(scanner.Text())
			if !ok {
				continue
			}

			p := classifyPayload(data)
			if p.countsAsChunk() {
				s.chunkCount++
			}

			switch p.kind {
			case payloadDone:
				s.logger.Debug().Int("chunks", s.chunkCount).Msg("Received [DONE] marker")
				s.finishReason = "done"
				return
			case payloadFinish:
				s.logger.Debug().Str("finish_reason", p.finishReason).Int("chunks", s.chunkCount).Msg("Received finish_reason")
				s.finishReason = p.finishReason
				return
			case payloadMalformed:
				s.logger.Debug().Str("line", truncate(data, 200)).Msg("Skipping malformed stream chunk")
			case payloadContent:
				if !yield(Fragment{Content: p.content, ChunkCount: s.chunkCount}, nil) {
					return
				}
			}
		}

		err := scanner.Err()
		if err == nil {
			// A clean EOF without a terminal marker still means the upstream
			// hung up early.
			err = io.ErrUnexpectedEOF
		}
		yield(Fragment{}, classifyError(s.parent, s.exchange, err))
	}
}

// dataField returns the value of a `data:` line.
func dataField(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

// FinishReason returns "done", "stop" or "length" once the stream ended
// normally, or "" otherwise.
func (s *Stream) FinishReason() string { return s.finishReason }

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.cancel()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "…(truncated)"
	}
	return s
}
