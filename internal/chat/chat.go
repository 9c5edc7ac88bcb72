// Package chat orchestrates one conversational exchange: resolve the
// thread, retrieve grounding context, assemble the prompt, generate with
// retry behind a circuit breaker, and persist the exchange atomically.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/llm"
	"github.com/beaconai/beacon/internal/log"
	"github.com/beaconai/beacon/internal/prompt"
	"github.com/beaconai/beacon/internal/thread"
)

// Apology is returned as the assistant message when generation fails after
// all retries. The failure details travel in the Result error fields, never
// in the message shown to the user.
const Apology = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

// Generation defaults.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// Error codes carried on failed Results.
const (
	CodeEmptyMessage     = "empty_message"
	CodeMissingUser      = "missing_user"
	CodeGenerationFailed = "generation_failed"
	CodeProviderBusy     = "provider_busy"
	CodeStorageFailed    = "storage_failed"
)

// Request is one user message to respond to. A blank ThreadID starts a new
// thread. SkipContext turns off knowledge retrieval for this exchange;
// retrieval is on by default.
type Request struct {
	UserID      string
	ThreadID    string
	Message     string
	SkipContext bool
}

// Result is the outcome of one exchange. Success false with an ErrorCode
// means the pipeline degraded but still produced a user-facing Message.
// ErrorDetail is user-safe for every code: validation failures carry
// specifics, backend failures a fixed phrase, with the raw provider error
// kept in the operator log only.
type Result struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ThreadID    string    `json:"thread_id"`
	MessageID   string    `json:"message_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ContextUsed bool      `json:"context_used"`
	Model       string    `json:"model"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// Config tunes the orchestrator.
type Config struct {
	MaxTokens    int
	Temperature  float32
	HistoryLimit int
	Retry        RetryPolicy
	Breaker      *Breaker
	Limiter      *rate.Limiter // optional provider-side throttle
	Logger       log.Logger
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store     thread.Store
	retriever *knowledge.Retriever
	assembler *prompt.Assembler
	generator llm.Generator

	maxTokens    int
	temperature  float32
	historyLimit int
	retry        RetryPolicy
	breaker      *Breaker
	limiter      *rate.Limiter
	logger       log.Logger
}

// New creates an Orchestrator. The retriever may be nil, which disables
// knowledge retrieval entirely.
func New(store thread.Store, retriever *knowledge.Retriever, assembler *prompt.Assembler, generator llm.Generator, cfg Config) *Orchestrator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = prompt.DefaultHistoryLimit
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Orchestrator{
		store:        store,
		retriever:    retriever,
		assembler:    assembler,
		generator:    generator,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		historyLimit: cfg.HistoryLimit,
		retry:        cfg.Retry,
		breaker:      cfg.Breaker,
		limiter:      cfg.Limiter,
		logger:       cfg.Logger,
	}
}

// Respond runs the full pipeline for one request. Validation and generation
// failures come back as a failed Result with a user-facing message; the
// error return is reserved for storage failures, where the reply could not
// be persisted and must not be presented as saved.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (*Result, error) {
	started := time.Now().UTC()

	if strings.TrimSpace(req.Message) == "" {
		return failed(req.ThreadID, started, CodeEmptyMessage, "message is empty",
			"Please enter a message."), nil
	}
	if strings.TrimSpace(req.UserID) == "" {
		return failed(req.ThreadID, started, CodeMissingUser, "user id is required",
			"A user id is required."), nil
	}

	th, err := o.resolveThread(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	history, err := o.store.GetMessages(ctx, th.ID, thread.MessageQuery{Limit: o.historyLimit})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var retrieved []knowledge.Result
	if !req.SkipContext && o.retriever != nil {
		retrieved = o.retriever.Retrieve(ctx, req.Message)
	}

	turns := o.assembler.Assemble(history, retrieved, req.Message)

	reply, genErr := o.generate(ctx, turns)
	if genErr != nil {
		o.logger.Error("generation failed",
			"thread_id", th.ID, "error", genErr, "elapsed", time.Since(started))
		code := CodeGenerationFailed
		detail := "the model backend did not produce a response"
		if errors.Is(genErr, ErrCircuitOpen) || errors.Is(genErr, llm.ErrRateLimited) {
			code = CodeProviderBusy
			detail = "the model backend is busy, try again shortly"
		}
		res := failed(th.ID, started, code, detail, Apology)
		res.Model = o.generator.ModelName()
		return res, nil
	}

	_, asstMsg, err := o.store.AppendExchange(ctx, th.ID,
		thread.Draft{Content: req.Message, UserID: req.UserID},
		thread.Draft{Content: reply})
	if err != nil {
		o.logger.Error("failed to persist exchange", "thread_id", th.ID, "error", err)
		res := failed(th.ID, started, CodeStorageFailed, "the reply could not be saved", Apology)
		return res, fmt.Errorf("persist exchange: %w", err)
	}

	o.logger.Info("exchange completed",
		"thread_id", th.ID,
		"context_used", len(retrieved) > 0,
		"elapsed", time.Since(started))

	return &Result{
		Success:     true,
		Message:     reply,
		ThreadID:    th.ID,
		MessageID:   asstMsg.ID,
		Timestamp:   asstMsg.Timestamp,
		ContextUsed: len(retrieved) > 0,
		Model:       o.generator.ModelName(),
	}, nil
}

// resolveThread finds or creates the conversation thread. A supplied ID
// that does not exist yet is created with that ID, so clients may mint
// their own thread identifiers.
func (o *Orchestrator) resolveThread(ctx context.Context, req Request) (*thread.Thread, error) {
	if req.ThreadID == "" {
		return o.store.CreateThread(ctx, req.UserID, "", nil)
	}

	th, err := o.store.GetThread(ctx, req.ThreadID)
	if errors.Is(err, thread.ErrThreadNotFound) {
		return o.store.CreateThread(ctx, req.UserID, req.ThreadID, nil)
	}
	if err != nil {
		return nil, err
	}
	return th, nil
}

// generate calls the provider behind the breaker and retry policy.
func (o *Orchestrator) generate(ctx context.Context, turns []llm.Turn) (string, error) {
	var reply string
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		if err := o.breaker.Allow(); err != nil {
			return err
		}
		// Throttle before the call rather than reacting to 429s. Allow has
		// already been consumed, so a failed wait must hand the probe slot
		// back or a half-open breaker would stay stuck rejecting forever.
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				o.breaker.cancelProbe()
				return err
			}
		}
		out, err := o.generator.Generate(ctx, turns, o.maxTokens, o.temperature)
		o.breaker.Record(err)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("%w: empty completion", llm.ErrUnavailable)
		}
		reply = out
		return nil
	})
	return reply, err
}

func failed(threadID string, ts time.Time, code, detail, message string) *Result {
	return &Result{
		Success:     false,
		Message:     message,
		ThreadID:    threadID,
		Timestamp:   ts,
		ErrorCode:   code,
		ErrorDetail: detail,
	}
}
