package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/enchanted-chat/internal/attachments"
	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/history"
	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/ratelimit"
)

// Request is one inbound chat message as decoded off the connection.
type Request struct {
	Message     string                   `json:"message"`
	ChatHistory []history.StoredTurn     `json:"chatHistory"`
	ChatID      string                   `json:"chatId"`
	Attachments []attachments.Attachment `json:"attachments"`
	UserID      string                   `json:"userId"`
	Credential  string                   `json:"credential,omitempty"`
}

// Emitter is the full event surface of one client connection.
type Emitter interface {
	genai.ResponseEmitter
	EmitTyping(chatID string, isTyping bool)
	EmitRateLimitInfo(decision ratelimit.Decision)
	EmitRateLimited(chatID, message string)
	EmitDebug(chatID, kind string, payload map[string]interface{})
}

// Generator runs one upstream generation turn. Satisfied by *genai.Connector.
type Generator interface {
	SendMessage(ctx context.Context, emitter genai.ResponseEmitter, chatID string, history []genai.Content, parts []genai.Part, turn genai.TurnContext) genai.Outcome
}

// Indexer writes completed turns through to the retrieval store.
// Satisfied by *vectorstore.Indexer.
type Indexer interface {
	IndexTurn(ctx context.Context, userID, chatID, userText, assistantText string, snapshot []history.StoredTurn)
}

// Pipeline composes the per-message flow: admit, normalize, process
// attachments, stream the upstream turn, index the completed pair.
type Pipeline struct {
	limiter    *ratelimit.Limiter
	normalizer *history.Normalizer
	processor  *attachments.Processor
	generator  Generator
	indexer    Indexer
	tools      genai.ToolRunner
	logger     *logger.Logger
}

// NewPipeline wires the pipeline. indexer may be nil when indexing is
// disabled (no database configured); toolRunner may be nil when no tools
// are registered.
func NewPipeline(limiter *ratelimit.Limiter, normalizer *history.Normalizer, processor *attachments.Processor, generator Generator, indexer Indexer, toolRunner genai.ToolRunner, log *logger.Logger) *Pipeline {
	return &Pipeline{
		limiter:    limiter,
		normalizer: normalizer,
		processor:  processor,
		generator:  generator,
		indexer:    indexer,
		tools:      toolRunner,
		logger:     log.WithComponent("chat-pipeline"),
	}
}

// Process handles one inbound message end to end and returns the upstream
// outcome. Events are emitted on emitter in the order the client expects;
// typing{false} is always the last event once typing{true} has been sent.
func (p *Pipeline) Process(ctx context.Context, emitter Emitter, req Request) genai.Outcome {
	ctx = logger.WithUserID(ctx, req.UserID)
	ctx = logger.WithChatID(ctx, req.ChatID)
	log := p.logger.WithContext(ctx)

	started := time.Now()
	emitter.EmitDebug(req.ChatID, "request", map[string]interface{}{
		"timestamp":   started.UTC().Format(time.RFC3339Nano),
		"historyLen":  len(req.ChatHistory),
		"attachments": len(req.Attachments),
	})

	decision := p.limiter.CheckLimit(req.UserID)
	emitter.EmitRateLimitInfo(decision)
	if !decision.Allowed {
		log.Info("message rejected by rate limiter",
			slog.String("limit_type", string(decision.LimitType)),
			slog.Duration("retry_after", decision.RetryAfter))
		emitter.EmitRateLimited(req.ChatID, waitMessage(decision))
		return genai.Outcome{}
	}

	emitter.EmitTyping(req.ChatID, true)
	defer emitter.EmitTyping(req.ChatID, false)

	normalized := p.normalizer.Normalize(req.ChatHistory)

	result := p.processor.Process(ctx, req.Attachments, req.Message)

	outcome := p.generator.SendMessage(ctx, emitter, req.ChatID, normalized, result.Parts, genai.TurnContext{
		UserID:     req.UserID,
		Credential: req.Credential,
		Tools:      p.tools,
	})

	if p.indexer != nil && outcome.Text != "" && !outcome.Blocked && !outcome.TimedOut {
		// Indexing is fire-and-forget with its own lifetime: a dropped
		// connection must not abort the write.
		go p.indexer.IndexTurn(context.WithoutCancel(ctx), req.UserID, req.ChatID, req.Message, outcome.Text, req.ChatHistory)
	}

	emitter.EmitDebug(req.ChatID, "response", map[string]interface{}{
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"durationMs":   time.Since(started).Milliseconds(),
		"blocked":      outcome.Blocked,
		"timedOut":     outcome.TimedOut,
		"hadToolCalls": outcome.HadToolCalls,
	})

	return outcome
}

// waitMessage renders a denial as a human-readable wait instruction.
func waitMessage(d ratelimit.Decision) string {
	switch d.LimitType {
	case ratelimit.LimitTypeHour:
		minutes := int(d.RetryAfter.Round(time.Minute) / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("You've reached the hourly message limit. Please wait about %d minute(s) and try again.", minutes)
	default:
		seconds := int(d.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return fmt.Sprintf("You're sending messages too quickly. Please wait %d second(s) and try again.", seconds)
	}
}
