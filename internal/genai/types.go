package genai

import (
	"context"
	"errors"
)

// Role values for provider-bound content. The provider only understands
// "user" and "model"; history normalization maps everything else to model.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one element of a provider message: plain text, an inline binary
// blob, or a tool response. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
}

// Blob carries base64-encoded binary data with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Content is one turn of a provider conversation.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// TextPart builds a text-only part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// InlineDataPart builds an inline binary part.
func InlineDataPart(mimeType, base64Data string) Part {
	return Part{InlineData: &Blob{MIMEType: mimeType, Data: base64Data}}
}

// FunctionResponsePart wraps a tool result string the way the provider
// expects it.
func FunctionResponsePart(name, result string) Part {
	return Part{FunctionResponse: &FunctionResponse{
		Name:     name,
		Response: map[string]interface{}{"result": result},
	}}
}

// ToolDeclaration describes a callable function to the provider.
type ToolDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ErrToolNotRegistered reports a tool call naming no registered handler.
var ErrToolNotRegistered = errors.New("tool not registered")

// ToolRunner executes model-requested tool calls. Satisfied by
// *tools.Registry; the connector depends on this seam only.
type ToolRunner interface {
	Declarations() []ToolDeclaration
	Run(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Chunk is one streamed increment of a generation. BlockReason or a SAFETY
// finish reason mark the turn as blocked; FunctionCalls carry tool intents.
type Chunk struct {
	Text          string
	BlockReason   string
	FinishReason  string
	FunctionCalls []FunctionCall
}

// Blocked reports whether this chunk terminates the turn on safety grounds.
func (c *Chunk) Blocked() bool {
	return c.BlockReason != "" || c.FinishReason == "SAFETY"
}

// Outcome summarizes one completed sendMessage turn.
type Outcome struct {
	Text         string
	Blocked      bool
	TimedOut     bool
	HadToolCalls bool
	ToolNames    []string
}

// ResponseEmitter delivers message-response events to the client. Implemented
// by the socket event layer; the connector only ever emits for its own chat.
type ResponseEmitter interface {
	EmitMessageResponse(chatID, message string, isComplete bool)
}
