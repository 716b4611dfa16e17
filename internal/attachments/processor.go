package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/metrics"
)

// DocumentExtractor extracts plain text from binary documents. Injected;
// the concrete extraction library is an external collaborator.
type DocumentExtractor interface {
	Extract(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Result is the outcome of processing one message's attachments.
type Result struct {
	// Parts holds the provider-bound parts in input order, ending with the
	// enhanced message text part.
	Parts []genai.Part

	// EnhancedText is the user's text plus accumulated extraction content
	// and rejection notes.
	EnhancedText string
}

// Processor validates and normalizes message attachments into provider parts.
//
// Rejections are local and non-fatal: a failing attachment contributes an
// explanatory note to the enhanced message and the pipeline proceeds.
type Processor struct {
	policy    Policy
	extractor DocumentExtractor
	logger    *logger.Logger
}

// NewProcessor creates an attachment processor.
func NewProcessor(policy Policy, extractor DocumentExtractor, log *logger.Logger) *Processor {
	return &Processor{
		policy:    policy,
		extractor: extractor,
		logger:    log.WithComponent("attachment-processor"),
	}
}

// Policy exposes the limits for collaborators that revalidate attachments.
func (p *Processor) Policy() Policy {
	return p.policy
}

// Process validates each attachment in input order and assembles the
// provider parts for the turn. A terminal text part carrying the enhanced
// message is always appended last.
func (p *Processor) Process(ctx context.Context, atts []Attachment, messageText string) Result {
	var parts []genai.Part
	var enhanced strings.Builder
	enhanced.WriteString(messageText)

	process := atts
	if len(process) > p.policy.MaxAttachmentsPerMessage {
		dropped := len(process) - p.policy.MaxAttachmentsPerMessage
		process = process[:p.policy.MaxAttachmentsPerMessage]
		fmt.Fprintf(&enhanced, "\n\n[%d attachment(s) were not processed: limit is %d per message]",
			dropped, p.policy.MaxAttachmentsPerMessage)
		p.logger.Warn("dropped surplus attachments", slog.Int("dropped", dropped))
	}

	for i := range process {
		att := process[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("attachment processing panicked",
						slog.String("name", att.Name),
						slog.Any("panic", r))
					fmt.Fprintf(&enhanced, "\n\n[Attachment %s could not be processed]", att.Name)
				}
			}()
			if part, ok := p.processOne(ctx, att, &enhanced); ok {
				parts = append(parts, part)
			}
		}()
	}

	parts = append(parts, genai.TextPart(enhanced.String()))

	return Result{Parts: parts, EnhancedText: enhanced.String()}
}

// processOne validates a single attachment. Image acceptance yields an
// inlineData part; documents and text files contribute extracted text to the
// enhanced message instead.
func (p *Processor) processOne(ctx context.Context, att Attachment, enhanced *strings.Builder) (genai.Part, bool) {
	kind := att.Kind()

	data, err := att.Decode()
	if err != nil {
		p.logger.Warn("attachment payload is not valid base64",
			slog.String("name", att.Name),
			slog.String("mime_type", att.MimeType))
		metrics.AttachmentsRejected.WithLabelValues("decode").Inc()
		fmt.Fprintf(enhanced, "\n\n[Attachment %s could not be decoded]", att.Name)
		return genai.Part{}, false
	}

	maxBytes := p.policy.MaxBytesFor(kind)
	if len(data) > maxBytes {
		metrics.AttachmentsRejected.WithLabelValues("size").Inc()
		p.writeSection(enhanced, kind, att.Name,
			fmt.Sprintf("[File too large: %d bytes (max: %d bytes)]", len(data), maxBytes))
		return genai.Part{}, false
	}

	if !CheckMagic(att.MimeType, data) {
		metrics.AttachmentsRejected.WithLabelValues("magic").Inc()
		p.writeSection(enhanced, kind, att.Name,
			fmt.Sprintf("[Invalid file format - file signature does not match %s format]", formatName(att.MimeType)))
		return genai.Part{}, false
	}

	switch kind {
	case KindImage:
		if ok, reason := p.policy.CheckImageDimensions(att.MimeType, data); !ok {
			metrics.AttachmentsRejected.WithLabelValues("dimensions").Inc()
			p.writeSection(enhanced, kind, att.Name, "["+reason+"]")
			return genai.Part{}, false
		}
		return genai.InlineDataPart(att.MimeType, att.Base64Payload()), true

	case KindDocument:
		p.extractDocument(ctx, att, data, enhanced)
		return genai.Part{}, false

	case KindText:
		text := string(data)
		if !utf8.ValidString(text) {
			metrics.AttachmentsRejected.WithLabelValues("encoding").Inc()
			p.writeSection(enhanced, kind, att.Name, "[File is not valid UTF-8 text]")
			return genai.Part{}, false
		}
		fmt.Fprintf(enhanced, "\n\n**File: %s**\n%s", att.Name, truncate(text, p.policy.MaxTextFileChars))
		return genai.Part{}, false

	default:
		metrics.AttachmentsRejected.WithLabelValues("unsupported").Inc()
		fmt.Fprintf(enhanced, "\n\n[Attachment %s has an unsupported type and was skipped]", att.Name)
		return genai.Part{}, false
	}
}

// extractDocument runs the injected extractor under the policy deadline.
func (p *Processor) extractDocument(ctx context.Context, att Attachment, data []byte, enhanced *strings.Builder) {
	if p.extractor == nil {
		p.writeSection(enhanced, KindDocument, att.Name, "[Document extraction is not available]")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.policy.DocExtractionDeadline)
	defer cancel()

	text, err := p.extractor.Extract(ctx, att.Name, att.MimeType, data)
	if err != nil {
		p.logger.Warn("document extraction failed",
			slog.String("name", att.Name),
			slog.String("error", err.Error()))
		metrics.AttachmentsRejected.WithLabelValues("extraction").Inc()
		p.writeSection(enhanced, KindDocument, att.Name, "[Could not extract document text]")
		return
	}

	p.writeSection(enhanced, KindDocument, att.Name, truncate(text, p.policy.MaxTextChars))
}

// ValidateStoredImage re-runs size and magic-byte validation for an image
// attachment rehydrated from history. Dimensions are trusted to have been
// validated at ingestion. Returns the reason when rejected.
func (p *Processor) ValidateStoredImage(att Attachment) (ok bool, reason string) {
	data, err := att.Decode()
	if err != nil {
		return false, "invalid base64 payload"
	}
	if len(data) > p.policy.MaxImageBytes {
		return false, fmt.Sprintf("too large: %d bytes", len(data))
	}
	if !CheckMagic(att.MimeType, data) {
		return false, "file signature mismatch"
	}
	return true, ""
}

// writeSection appends a typed section to the enhanced message.
func (p *Processor) writeSection(enhanced *strings.Builder, kind Kind, name, body string) {
	switch kind {
	case KindDocument:
		fmt.Fprintf(enhanced, "\n\n**PDF Document: %s**\n%s", name, body)
	case KindImage:
		fmt.Fprintf(enhanced, "\n\n**Image: %s**\n%s", name, body)
	default:
		fmt.Fprintf(enhanced, "\n\n**File: %s**\n%s", name, body)
	}
}

// formatName maps a MIME type to the short format name used in user-facing
// rejection notes.
func formatName(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return "PDF"
	case "image/jpeg":
		return "JPEG"
	case "image/png":
		return "PNG"
	case "image/gif":
		return "GIF"
	case "image/webp":
		return "WebP"
	default:
		return mimeType
	}
}

// truncate cuts s to at most max characters, marking the cut. The limit is
// in runes: a byte cut could split a multi-byte character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "\n[Content truncated]"
}
