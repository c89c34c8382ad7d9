// Package streaming converts heterogeneous provider streaming protocols
// into one uniform sequence of api.ChatChunk values.
//
// Two wire framings are supported: event-stream style ("data: " prefixed
// lines with a [DONE] sentinel) and newline-delimited JSON. Each provider
// adapter supplies an Extractor that knows how to pull content and the
// terminal marker out of its own event payloads; the line-oriented state
// machine here is shared by every adapter.
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
	"github.com/chorus-llm/chorus/pkg/debug"
)

// Framing selects how backend events are delimited on the wire.
type Framing int

const (
	// FramingSSE expects "data: " prefixed lines terminated by a [DONE]
	// sentinel, per the Server-Sent Events convention.
	FramingSSE Framing = iota

	// FramingNDJSON expects one bare JSON object per line.
	FramingNDJSON
)

// Extractor pulls uniform fields out of a single raw backend event.
// Implementations must tolerate arbitrary bytes: a malformed event is
// reported by returning ok=false, never by panicking.
type Extractor interface {
	// ExtractContent returns the delta text of the event, if any.
	ExtractContent(raw []byte) (content string, ok bool)

	// ExtractDone reports whether the event terminates the stream, and
	// with which finish reason.
	ExtractDone(raw []byte) (reason api.FinishReason, done bool)

	// ExtractUsage returns token accounting carried by the event, or nil.
	ExtractUsage(raw []byte) *api.Usage
}

// Options configures a normalization run.
type Options struct {
	// Provider is used for log context only.
	Provider string

	Framing Framing

	// IdleTimeout bounds the wait for the next byte from a silent
	// connection. Zero disables the watchdog.
	IdleTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

var doneSentinel = []byte("[DONE]")

const maxLineSize = 1024 * 1024

// Normalize consumes body and produces a lazy, single-pass sequence of
// chunks on the returned channel. The channel is closed by the producer
// after exactly one terminal chunk (Done=true), which is always last:
// stream errors, cancellation, and EOF without an explicit terminal marker
// all synthesize one. The body is closed before the channel is.
func Normalize(ctx context.Context, body io.ReadCloser, ex Extractor, opts Options) <-chan api.ChatChunk {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := make(chan api.ChatChunk, 16)
	go func() {
		defer close(ch)
		run(ctx, body, ex, opts, logger, ch)
	}()
	return ch
}

func run(ctx context.Context, body io.ReadCloser, ex Extractor, opts Options, logger *slog.Logger, ch chan<- api.ChatChunk) {
	// Close body when ctx fires so a blocked read unblocks promptly.
	// finished stops the watcher on normal completion.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-finished:
		}
	}()
	defer body.Close()

	var r io.Reader = body
	if opts.IdleTimeout > 0 {
		idle := newIdleTimeoutReader(body, opts.IdleTimeout)
		defer idle.stop()
		r = idle
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var usage *api.Usage

	emit := func(c api.ChatChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			emitTerminal(ctx, ch, api.ErrorChunk(api.NewAbortedError(opts.Provider)))
			return
		}

		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}

		payload, ok := frame(line, opts.Framing)
		if !ok {
			continue
		}
		debug.Trace("streaming", "frame", "provider", opts.Provider, "data", truncate(payload, 200))
		if bytes.Equal(bytes.TrimSpace(payload), doneSentinel) {
			emitTerminal(ctx, ch, api.TerminalChunk(api.FinishReasonStop, usage))
			return
		}

		if u := ex.ExtractUsage(payload); u != nil {
			usage = u
		}

		content, ok := ex.ExtractContent(payload)
		if !ok {
			// Malformed chunks are tolerated, not fatal.
			logger.Warn("skipping malformed stream event",
				"provider", opts.Provider,
				"data", truncate(payload, 200),
			)
			continue
		}
		if content != "" {
			if !emit(api.ChatChunk{Content: content}) {
				emitTerminal(ctx, ch, api.ErrorChunk(api.NewAbortedError(opts.Provider)))
				return
			}
		}

		if reason, done := ex.ExtractDone(payload); done {
			emitTerminal(ctx, ch, api.TerminalChunk(reason, usage))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			emitTerminal(ctx, ch, api.ErrorChunk(api.NewAbortedError(opts.Provider)))
			return
		}
		emitTerminal(ctx, ch, api.ErrorChunk(
			api.NewProviderUnavailableError(opts.Provider, "stream read error: "+err.Error())))
		return
	}

	// The transport closed without an explicit terminal marker. Residual
	// buffered bytes were already handled as a final line by the scanner;
	// every consumer still observes exactly one terminal chunk.
	emitTerminal(ctx, ch, api.TerminalChunk(api.FinishReasonStop, usage))
}

// frame strips wire framing from one line, returning the raw event payload.
func frame(line []byte, f Framing) ([]byte, bool) {
	if f == FramingNDJSON {
		return line, true
	}
	// SSE comment lines start with ':'.
	if line[0] == ':' {
		return nil, false
	}
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := line[len("data:"):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	return payload, true
}

// emitTerminal delivers the terminal chunk. A consumer that already walked
// away (cancelled context, buffer full) misses it, which is safe: the
// channel close follows immediately and nobody is reading.
func emitTerminal(ctx context.Context, ch chan<- api.ChatChunk, c api.ChatChunk) {
	select {
	case ch <- c:
	case <-ctx.Done():
		select {
		case ch <- c:
		default:
		}
	}
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
