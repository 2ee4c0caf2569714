package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contentChunk(s string) string {
	b, _ := json.Marshal(map[string]any{
		"object":  "chat.completion.chunk",
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": s}, "finish_reason": nil}},
	})
	return "data: " + string(b) + "\n\n"
}

func writeFlush(w http.ResponseWriter, s string) {
	io.WriteString(w, s)
	w.(http.Flusher).Flush()
}

func newTestClient(cfg Config) *Client {
	return NewClient(nil, cfg, zerolog.Nop())
}

func collect(t *testing.T, s *Stream) ([]Fragment, error) {
	t.Helper()
	var (
		frags []Fragment
		last  error
	)
	for frag, err := range s.Fragments() {
		if err != nil {
			last = err
			break
		}
		frags = append(frags, frag)
	}
	return frags, last
}

func TestClient_StreamsFragmentsUntilDone(t *testing.T) {
	type captured struct {
		auth, accept string
		body         ChatCompletionRequest
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{auth: r.Header.Get("Authorization"), accept: r.Header.Get("Accept")}
		json.NewDecoder(r.Body).Decode(&c.body)
		seen <- c

		w.Header().Set("Content-Type", "text/event-stream")
		writeFlush(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		writeFlush(w, contentChunk(`{"message":`))
		writeFlush(w, ": keep-alive comment\n\n")
		writeFlush(w, contentChunk(`"héllo"`))
		writeFlush(w, contentChunk(`}`))
		writeFlush(w, "data: [DONE]\n\n")
		writeFlush(w, contentChunk("ignored after done"))
	}))
	defer srv.Close()

	c := newTestClient(DefaultConfig())
	stream, err := c.Open(context.Background(), Request{
		URL: srv.URL, Model: "gpt-test", APIKey: "Bearer sk-test", System: "primer", Prompt: "do it",
	})
	require.NoError(t, err)

	frags, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	var joined strings.Builder
	for _, f := range frags {
		joined.WriteString(f.Content)
	}
	assert.Equal(t, `{"message":"héllo"}`, joined.String())
	assert.Equal(t, []int{2, 3, 4}, []int{frags[0].ChunkCount, frags[1].ChunkCount, frags[2].ChunkCount})
	assert.Equal(t, "done", stream.FinishReason())

	got := <-seen
	gotBody := got.body
	assert.Equal(t, "Bearer sk-test", got.auth)
	assert.Equal(t, "text/event-stream", got.accept)
	assert.Equal(t, "gpt-test", gotBody.Model)
	assert.True(t, gotBody.Stream)
	require.NotNil(t, gotBody.Temperature)
	assert.InDelta(t, 0.7, *gotBody.Temperature, 1e-9)
	require.NotNil(t, gotBody.MaxTokens)
	assert.Equal(t, 8000, *gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, ChatMessage{Role: "system", Content: "primer"}, gotBody.Messages[0])
	assert.Equal(t, ChatMessage{Role: "user", Content: "do it"}, gotBody.Messages[1])
}

func TestClient_FinishReasonEndsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFlush(w, contentChunk("a"))
		writeFlush(w, `data: {"choices":[{"delta":{},"finish_reason":"length"}]}`+"\n\n")
		writeFlush(w, contentChunk("b"))
	}))
	defer srv.Close()

	stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	frags, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "a", frags[0].Content)
	assert.Equal(t, "length", stream.FinishReason())
	assert.Equal(t, 1, frags[0].ChunkCount)
}

func TestClient_SkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFlush(w, contentChunk("a"))
		writeFlush(w, "data: {not json\n\n")
		writeFlush(w, contentChunk("b"))
		writeFlush(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	frags, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "b", frags[1].Content)
	assert.Equal(t, 2, frags[1].ChunkCount)
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"rate limited"}`+strings.Repeat("x", 1000))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	_, err := newTestClient(cfg).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindHTTP, uerr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, uerr.StatusCode)
	assert.True(t, strings.HasPrefix(uerr.Body, `{"error":"rate limited"}`))
	assert.Len(t, uerr.Body, cfg.ErrorSnippetLimit)
	assert.Contains(t, uerr.Error(), "status 429")
}

func TestClient_Interruptions(t *testing.T) {
	t.Run("abort after content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, contentChunk("partial"))
			panic(http.ErrAbortHandler)
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		require.Len(t, frags, 1)
		assert.Equal(t, "partial", frags[0].Content)

		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindInterrupted, uerr.Kind)
	})

	t.Run("abort before content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
			panic(http.ErrAbortHandler)
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		assert.Empty(t, frags)
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindInterrupted, uerr.Kind)
	})

	t.Run("clean EOF without terminal marker", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, contentChunk("a"))
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		require.Len(t, frags, 1)
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindInterrupted, uerr.Kind)
		assert.Equal(t, "", stream.FinishReason())
	})
}

func TestClient_ReadTimeoutIsFatal(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFlush(w, contentChunk("slow"))
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond

	stream, err := newTestClient(cfg).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	frags, err := collect(t, stream)
	assert.Len(t, frags, 1)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindTimeout, uerr.Kind)
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: url, APIKey: "k"})

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindRead, uerr.Kind)
}

func TestClient_CallerCancellation(t *testing.T) {
	started := make(chan struct{})
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFlush(w, contentChunk("a"))
		close(started)
		<-r.Context().Done()
		close(closed)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := newTestClient(DefaultConfig()).Open(ctx, Request{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	var got error
	for _, err := range stream.Fragments() {
		if err != nil {
			got = err
			break
		}
		<-started
		cancel()
	}
	assert.True(t, errors.Is(got, context.Canceled), "got %v", got)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection was not closed after cancellation")
	}
}

func TestError_Messages(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindHTTP, StatusCode: 401, Body: "bad key"}, "AI API call failed (status 401). error: bad key"},
		{&Error{Kind: KindHTTP, StatusCode: 502}, "AI API call failed (status 502)"},
		{&Error{Kind: KindTimeout, Err: context.DeadlineExceeded}, "AI API call timed out: context deadline exceeded"},
		{&Error{Kind: KindRead, Err: fmt.Errorf("boom")}, "failed to read AI API stream: boom"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.Error())
	}
	assert.Contains(t, (&Error{Kind: KindInterrupted, Err: io.ErrUnexpectedEOF}).Error(), "connection interrupted")
}

func TestClient_LineFraming(t *testing.T) {
	line := func(s string) string { return strings.TrimSuffix(contentChunk(s), "\n") }

	t.Run("single newlines then abort", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, line("a"))
			writeFlush(w, line("b"))
			writeFlush(w, line("c"))
			panic(http.ErrAbortHandler)
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		require.Len(t, frags, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{frags[0].Content, frags[1].Content, frags[2].Content})
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindInterrupted, uerr.Kind)
	})

	t.Run("last line without blank line before abort", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, contentChunk("first"))
			writeFlush(w, strings.TrimSuffix(contentChunk("last"), "\n\n"))
			panic(http.ErrAbortHandler)
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		require.Len(t, frags, 2)
		assert.Equal(t, "last", frags[1].Content)
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindInterrupted, uerr.Kind)
	})

	t.Run("fragments arrive before the stream ends", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, line("early"))
			<-release
			writeFlush(w, "data: [DONE]\n")
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		for frag, err := range stream.Fragments() {
			require.NoError(t, err)
			assert.Equal(t, "early", frag.Content)
			close(release)
		}
		assert.Equal(t, "done", stream.FinishReason())
	})

	t.Run("no space after colon and CRLF endings", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeFlush(w, "event: message\r\n")
			writeFlush(w, `data:{"choices":[{"delta":{"content":"x"}}]}`+"\r\n\r\n")
			writeFlush(w, "data:[DONE]\r\n")
		}))
		defer srv.Close()

		stream, err := newTestClient(DefaultConfig()).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
		require.NoError(t, err)

		frags, err := collect(t, stream)
		require.NoError(t, err)
		require.Len(t, frags, 1)
		assert.Equal(t, "x", frags[0].Content)
	})
}

func TestClient_LineTooLong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFlush(w, contentChunk(strings.Repeat("y", 4096)))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxEventSize = 1024
	stream, err := newTestClient(cfg).Open(context.Background(), Request{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	frags, err := collect(t, stream)
	assert.Empty(t, frags)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindRead, uerr.Kind)
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReadSnippet_BoundsRead(t *testing.T) {
	body := &countingReader{r: strings.NewReader(strings.Repeat("界", 100_000))}

	got := readSnippet(body, 10)
	assert.Equal(t, strings.Repeat("界", 10), got)
	assert.LessOrEqual(t, body.read, 10*4+1)

	assert.Equal(t, "short", readSnippet(strings.NewReader("short"), 10))
}
