// Package speech wraps a narration backend with the limits every page
// synthesis is subject to, and estimates read-along word timings.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"github.com/bookshelf/api/internal/apperr"
	"github.com/bookshelf/api/internal/client"
)

const DefaultMaxChars = 5000

// Options configures a Synthesizer. Zero values fall back to defaults.
type Options struct {
	MaxChars          int
	MaxBytes          int // taken from a client.ByteLimited backend when zero
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int
}

// Result is the audio for one piece of text.
type Result struct {
	Audio     []byte
	Truncated bool
	Chars     int
}

// Synthesizer enforces the input cap, per-call timeout, backend throttle
// and retry policy around a SpeechBackend.
type Synthesizer struct {
	backend client.SpeechBackend
	limiter *rate.Limiter
	opts    Options
}

func NewSynthesizer(backend client.SpeechBackend, opts Options) *Synthesizer {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if bl, ok := backend.(client.ByteLimited); ok && opts.MaxBytes <= 0 {
		opts.MaxBytes = bl.MaxInputBytes()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Synthesizer{
		backend: backend,
		limiter: limiter,
		opts:    opts,
	}
}

// Backend returns the name of the wrapped backend.
func (s *Synthesizer) Backend() string {
	return s.backend.Name()
}

// MaxChars returns the input cap in characters.
func (s *Synthesizer) MaxChars() int {
	return s.opts.MaxChars
}

// Truncate cuts text to at most max characters and reports whether it did.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:max]), true
}

// TruncateBytes cuts text to at most max UTF-8 bytes without splitting a
// character and reports whether it did.
func TruncateBytes(text string, max int) (string, bool) {
	if max <= 0 || len(text) <= max {
		return text, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut], true
}

// Fit applies the character cap and, for byte-limited backends, the byte
// cap. It is the text Synthesize sends.
func (s *Synthesizer) Fit(text string) (string, bool) {
	text, cut := Truncate(text, s.opts.MaxChars)
	text, cutBytes := TruncateBytes(text, s.opts.MaxBytes)
	return text, cut || cutBytes
}

// Synthesize narrates text, cutting it with Fit first. All failures,
// including an expired timeout, are returned as *apperr.SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*Result, error) {
	text, truncated := s.Fit(strings.TrimSpace(text))
	if text == "" {
		return nil, &apperr.SynthesisError{Backend: s.backend.Name(), Err: errors.New("text is required")}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var audio []byte
	err := retry.Do(
		func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			out, err := s.backend.Synthesize(ctx, text)
			if err != nil {
				return err
			}
			audio = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.opts.MaxRetries+1)),
		retry.Delay(s.opts.RetryDelay),
		retry.RetryIf(client.IsRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", s.opts.Timeout, err)
		}
		return nil, &apperr.SynthesisError{Backend: s.backend.Name(), Err: err}
	}
	if len(audio) == 0 {
		return nil, &apperr.SynthesisError{Backend: s.backend.Name(), Err: errors.New("empty audio")}
	}

	return &Result{
		Audio:     audio,
		Truncated: truncated,
		Chars:     utf8.RuneCountInString(text),
	}, nil
}
