// Package extractor asks an LLM for the actionable tasks in a note block and
// normalizes whatever comes back.
package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bainianlaoyao/stream-note/internal/llm"
	"github.com/bainianlaoyao/stream-note/internal/metrics"
)

const systemPrompt = `You extract actionable tasks from short personal notes.
Judge meaning, not keywords. The notes come from a to-do oriented note app.

An actionable task is a concrete action someone can carry out, including
implicit imperatives and stated plans. Preferences, feelings, descriptions
and plain facts are not tasks. A short verb-object phrase counts as a task
by default. When unsure, favour recall over precision.

Reply with a JSON array and nothing else: no markdown, no explanation, no
reasoning. Each element has the form
{"text":"task description","has_time":true|false,"time_expr":"time phrase or null"}
Keep "text" short but keep the original wording and intent.
Copy "time_expr" verbatim from the note when a time is mentioned.`

const (
	temperature  = 0.1
	retryBackoff = 400 * time.Millisecond
)

// Task is one normalized extraction result.
type Task struct {
	Text     string  `json:"text"`
	HasTime  bool    `json:"has_time"`
	TimeExpr *string `json:"time_expr"`
}

// AIServiceError reports an extraction call that could not complete.
type AIServiceError struct {
	Attempts int
	Err      error
}

func (e *AIServiceError) Error() string {
	return fmt.Sprintf("ai service failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

// Extractor turns block text into tasks.
type Extractor struct {
	client   llm.Client
	settings llm.Settings
	limiter  *rate.Limiter
	sleep    func(context.Context, time.Duration) error
	log      zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRateLimit paces LLM calls to rps requests per second. Zero or less
// means unlimited.
func WithRateLimit(rps float64) Option {
	return func(e *Extractor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) { e.log = l.With().Str("component", "extractor").Logger() }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Extractor) { e.sleep = fn }
}

// New creates an Extractor calling client with s.
func New(client llm.Client, s llm.Settings, opts ...Option) *Extractor {
	e := &Extractor{
		client:   client,
		settings: s,
		sleep:    sleepCtx,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the tasks found in text. Timeouts, connection failures and
// 429/5xx gateway statuses are retried up to the configured attempts; any
// other failure stops immediately. Every failure is an *AIServiceError.
func (e *Extractor) Extract(ctx context.Context, text string) ([]Task, error) {
	maxAttempts := e.settings.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	req := llm.ChatRequest{
		Model:        e.settings.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   "Note block: " + text,
		Temperature:  temperature,
		Extras:       e.settings.Extras(),
	}

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		start := time.Now()
		reply, err := e.client.Chat(ctx, req)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			metrics.RecordExtractCall("ok", elapsed)
			return ParseReply(reply), nil
		}
		lastErr = err

		if !llm.IsRetryable(err) || attempt == maxAttempts {
			metrics.RecordExtractCall("error", elapsed)
			break
		}
		metrics.RecordExtractCall("retry", elapsed)
		e.log.Warn().Err(err).Int("attempt", attempt).Msg("extraction call failed, retrying")

		if err := e.sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
			lastErr = err
			break
		}
	}
	return nil, &AIServiceError{Attempts: attempt, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
