package genai

import (
	"context"
	"strings"
)

// TokenStream delivers completion text incrementally and the full text once done.
//
// A stream has a single consumer: read Tokens until it closes, then call Text,
// or call Text directly to discard the tokens. The producer stops early when
// the context passed to NewTokenStream is cancelled.
type TokenStream struct {
	tokens chan string
	done   chan struct{}
	text   string
	err    error
}

// NewTokenStream runs produce on its own goroutine. produce calls emit for
// each token; emit fails once ctx is cancelled.
func NewTokenStream(ctx context.Context, produce func(emit func(string) error) error) *TokenStream {
	s := &TokenStream{
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
	}
	go func() {
		var b strings.Builder
		err := produce(func(tok string) error {
			if tok == "" {
				return nil
			}
			b.WriteString(tok)
			select {
			case s.tokens <- tok:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.text = b.String()
		s.err = err
		close(s.tokens)
		close(s.done)
	}()
	return s
}

// StaticStream returns a stream that replays the given tokens.
func StaticStream(ctx context.Context, tokens ...string) *TokenStream {
	return NewTokenStream(ctx, func(emit func(string) error) error {
		for _, t := range tokens {
			if err := emit(t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Tokens returns the token channel; it is closed when the stream finishes.
func (s *TokenStream) Tokens() <-chan string {
	return s.tokens
}

// Text blocks until the stream finishes and returns everything produced.
// The error is non-nil when the provider failed mid-stream; the text then
// holds whatever arrived before the failure.
func (s *TokenStream) Text() (string, error) {
	for range s.tokens {
	}
	<-s.done
	return s.text, s.err
}
