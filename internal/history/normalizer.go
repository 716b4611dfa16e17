package history

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/eternisai/enchanted-chat/internal/attachments"
	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/logger"
)

// StoredTurn is one message as consumed from the external history store.
// Content should be a string, but compromised or legacy rows may carry
// objects; normalization coerces either shape.
type StoredTurn struct {
	Role        string                   `json:"role"`
	Content     interface{}              `json:"content"`
	Attachments []attachments.Attachment `json:"attachments,omitempty"`
}

// Normalizer converts stored turns into provider contents. Stored turns are
// replayed to a stateless upstream, so embedded images re-pass validation:
// a compromised history store must not smuggle payloads past ingestion rules.
type Normalizer struct {
	processor *attachments.Processor
	preamble  []genai.Content
	logger    *logger.Logger
}

// NewNormalizer creates a normalizer. The preamble is a fixed sequence of
// model-role turns prepended to every normalized history.
func NewNormalizer(processor *attachments.Processor, preamble []genai.Content, log *logger.Logger) *Normalizer {
	return &Normalizer{
		processor: processor,
		preamble:  preamble,
		logger:    log.WithComponent("history-normalizer"),
	}
}

// Normalize maps stored history into provider contents, preamble first.
func (n *Normalizer) Normalize(stored []StoredTurn) []genai.Content {
	out := make([]genai.Content, 0, len(n.preamble)+len(stored))
	out = append(out, n.preamble...)

	for i := range stored {
		turn := stored[i]
		parts := []genai.Part{genai.TextPart(n.cleanContent(turn.Content))}

		for _, att := range turn.Attachments {
			if att.Kind() != attachments.KindImage {
				continue
			}
			if ok, reason := n.processor.ValidateStoredImage(att); !ok {
				// Silently dropped from the payload; the model just never
				// sees the image again.
				n.logger.Warn("dropping stored attachment that failed revalidation",
					slog.String("name", att.Name),
					slog.String("reason", reason))
				continue
			}
			parts = append(parts, genai.InlineDataPart(att.MimeType, att.Base64Payload()))
		}

		role := genai.RoleModel
		if turn.Role == "user" {
			role = genai.RoleUser
		}

		out = append(out, genai.Content{Role: role, Parts: parts})
	}

	return out
}

// cleanContent coerces stored content to a clean string.
func (n *Normalizer) cleanContent(content interface{}) string {
	switch v := content.(type) {
	case string:
		if strings.Contains(v, "[object Object]") {
			n.logger.Warn("stored content contains serialized object marker")
		}
		return v
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok && text != "" {
			return text
		}
		// Fall back to the first non-empty string-valued field, in a
		// deterministic order.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
		n.logger.Warn("stored content object has no usable text field")
		return ""
	case nil:
		return ""
	default:
		s := fmt.Sprint(v)
		if strings.Contains(s, "[object Object]") {
			n.logger.Warn("stored content coerced to serialized object marker")
			return ""
		}
		return s
	}
}
