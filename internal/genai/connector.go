package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/metrics"
)

const (
	// apiTimeout is the wall-clock bound on one whole upstream turn,
	// including tool continuations.
	apiTimeout = 60 * time.Second

	// maxResponseChars bounds the accumulated response text.
	maxResponseChars = 50_000

	// maxToolResultChars bounds a single tool result string.
	maxToolResultChars = 10_000

	// maxToolCallsPerMessage bounds tool executions across the whole turn.
	maxToolCallsPerMessage = 5
)

// User-visible fallback messages. Internal error text never reaches clients.
const (
	msgBlocked  = "I can't help with that request. Please try rephrasing your message."
	msgTimeout  = "The response took too long to generate. Please try again."
	msgEmpty    = "I'm sorry, I wasn't able to generate a response. Please try again."
	msgUpstream = "I'm sorry, something went wrong while generating a response. Please try again."
)

// TurnContext carries per-turn collaborators into SendMessage.
type TurnContext struct {
	UserID     string
	Credential string
	Tools      ToolRunner
}

// Connector streams one generation turn from the upstream provider,
// forwarding chunks to the client and mediating mid-stream tool calls.
//
// For one SendMessage invocation, chunks are emitted in arrival order and a
// terminal isComplete event is emitted exactly once, on every exit path
// except caller cancellation (a dropped connection must not receive events).
type Connector struct {
	creds  *CredentialCache
	logger *logger.Logger
}

// NewConnector creates the connector around a credential cache.
func NewConnector(creds *CredentialCache, log *logger.Logger) *Connector {
	return &Connector{
		creds:  creds,
		logger: log.WithComponent("upstream-connector"),
	}
}

// SendMessage runs one streamed generation turn.
func (c *Connector) SendMessage(ctx context.Context, emitter ResponseEmitter, chatID string, history []Content, parts []Part, turn TurnContext) Outcome {
	client, usedClientKey := c.creds.Get(ctx, turn.Credential)

	log := c.logger.WithContext(ctx)
	log.Debug("starting upstream turn",
		slog.String("chat_id", chatID),
		slog.Bool("used_client_key", usedClientKey),
		slog.Int("history_turns", len(history)))

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	contents := make([]Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, Content{Role: RoleUser, Parts: parts})

	var declarations []ToolDeclaration
	if turn.Tools != nil {
		declarations = turn.Tools.Declarations()
	}

	var acc strings.Builder
	var toolNames []string
	hadToolCalls := false
	toolBudget := maxToolCallsPerMessage

	for {
		stream, err := client.GenerateStream(ctx, contents, declarations)
		if err != nil {
			return c.failTurn(ctx, emitter, chatID, err, acc.String())
		}

		var pendingCalls []FunctionCall
		truncated := false
		var streamErr error

		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				streamErr = err
				break
			}

			if chunk.Blocked() {
				stream.Close()
				log.Warn("upstream blocked response",
					slog.String("chat_id", chatID),
					slog.String("block_reason", chunk.BlockReason),
					slog.String("finish_reason", chunk.FinishReason))
				metrics.StreamOutcomes.WithLabelValues("blocked").Inc()
				emitter.EmitMessageResponse(chatID, msgBlocked, true)
				return Outcome{Blocked: true}
			}

			if len(chunk.FunctionCalls) > 0 {
				if toolBudget > 0 {
					pendingCalls = chunk.FunctionCalls
				} else {
					// Budget exhausted: treat further tool intents as
					// end of stream rather than looping forever.
					log.Warn("ignoring tool calls past per-message budget",
						slog.String("chat_id", chatID),
						slog.Int("ignored", len(chunk.FunctionCalls)))
				}
				break
			}

			if chunk.Text != "" {
				if acc.Len()+len(chunk.Text) > maxResponseChars {
					log.Warn("response length cap reached",
						slog.String("chat_id", chatID),
						slog.Int("accumulated", acc.Len()))
					truncated = true
					break
				}
				emitter.EmitMessageResponse(chatID, chunk.Text, false)
				acc.WriteString(chunk.Text)
				metrics.StreamChunks.Inc()
			}
		}
		stream.Close()

		if streamErr != nil {
			return c.failTurn(ctx, emitter, chatID, streamErr, acc.String())
		}

		if len(pendingCalls) == 0 || truncated {
			break
		}

		// Tool-call handling: execute in declared order, feed results back,
		// resume streaming the continuation.
		hadToolCalls = true
		if len(pendingCalls) > toolBudget {
			log.Warn("truncating tool call list",
				slog.String("chat_id", chatID),
				slog.Int("requested", len(pendingCalls)),
				slog.Int("budget", toolBudget))
			pendingCalls = pendingCalls[:toolBudget]
		}
		toolBudget -= len(pendingCalls)

		callParts := make([]Part, 0, len(pendingCalls))
		responseParts := make([]Part, 0, len(pendingCalls))
		for i := range pendingCalls {
			call := pendingCalls[i]
			toolNames = append(toolNames, call.Name)
			callParts = append(callParts, Part{FunctionCall: &call})
			responseParts = append(responseParts, FunctionResponsePart(call.Name, c.executeTool(ctx, turn.Tools, call)))
		}

		contents = append(contents,
			Content{Role: RoleModel, Parts: callParts},
			Content{Role: RoleUser, Parts: responseParts},
		)
	}

	text := acc.String()

	if text == "" {
		metrics.StreamOutcomes.WithLabelValues("empty").Inc()
		emitter.EmitMessageResponse(chatID, msgEmpty, true)
		return Outcome{Text: "", HadToolCalls: hadToolCalls, ToolNames: toolNames}
	}

	if strings.Contains(text, "[object Object]") {
		log.Error("response integrity check failed: serialized object in text",
			slog.String("chat_id", chatID))
	}

	metrics.StreamOutcomes.WithLabelValues("completed").Inc()
	emitter.EmitMessageResponse(chatID, "", true)

	return Outcome{
		Text:         text,
		HadToolCalls: hadToolCalls,
		ToolNames:    toolNames,
	}
}

// failTurn classifies a failed upstream read and emits the single terminal
// event for the turn. Caller cancellation emits nothing: the connection is
// gone and the pipeline must fall silent.
func (c *Connector) failTurn(ctx context.Context, emitter ResponseEmitter, chatID string, err error, partial string) Outcome {
	log := c.logger.WithContext(ctx)

	if errors.Is(err, context.Canceled) {
		log.Info("upstream turn cancelled", slog.String("chat_id", chatID))
		metrics.StreamOutcomes.WithLabelValues("cancelled").Inc()
		return Outcome{Text: ""}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Error("upstream turn timed out",
			slog.String("chat_id", chatID),
			slog.Duration("timeout", apiTimeout))
		metrics.StreamOutcomes.WithLabelValues("timeout").Inc()
		emitter.EmitMessageResponse(chatID, msgTimeout, true)
		return Outcome{TimedOut: true, Text: ""}
	}

	log.Error("upstream turn failed",
		slog.String("chat_id", chatID),
		slog.String("error", err.Error()),
		slog.Int("partial_chars", len(partial)))
	metrics.StreamOutcomes.WithLabelValues("error").Inc()
	emitter.EmitMessageResponse(chatID, msgUpstream, true)
	return Outcome{Text: ""}
}

// executeTool runs one tool call. Handler failures never leak to the client:
// the result is always a bounded, user-safe string.
func (c *Connector) executeTool(ctx context.Context, runner ToolRunner, call FunctionCall) string {
	if runner == nil {
		return fmt.Sprintf("Tool %q is not available.", call.Name)
	}

	result, err := func() (result string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v", r)
			}
		}()
		return runner.Run(ctx, call.Name, call.Args)
	}()
	if errors.Is(err, ErrToolNotRegistered) {
		c.logger.Warn("model requested unregistered tool", slog.String("tool", call.Name))
		metrics.ToolCalls.WithLabelValues(call.Name, "unregistered").Inc()
		return fmt.Sprintf("Tool %q is not available.", call.Name)
	}
	if err != nil {
		c.logger.Error("tool execution failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()))
		metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		return "The tool encountered an error and could not complete."
	}

	// Character cap, not bytes: cutting mid-rune would hand the provider
	// invalid UTF-8.
	if utf8.RuneCountInString(result) > maxToolResultChars {
		result = string([]rune(result)[:maxToolResultChars])
	}

	metrics.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
	return result
}
