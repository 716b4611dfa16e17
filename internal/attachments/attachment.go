package attachments

import (
	"encoding/base64"
	"strings"
)

// Kind classifies an attachment for limit selection.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindText     Kind = "text"
	KindUnknown  Kind = "unknown"
)

// Attachment is an inbound file, or one rehydrated from stored history.
// Ephemeral; it lives only for the duration of one pipeline invocation.
type Attachment struct {
	Name     string `json:"name"`
	Type     Kind   `json:"type,omitempty"`
	MimeType string `json:"mimeType"`
	// Data holds the base64 payload, either bare or as a data: URL.
	Data string `json:"data"`
	// URL is an alternative carrier some clients use for the same payload.
	URL string `json:"url,omitempty"`
}

// Base64Payload returns the bare base64 payload, stripping any data: URL
// envelope.
func (a Attachment) Base64Payload() string {
	data := a.Data
	if data == "" {
		data = a.URL
	}
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx >= 0 {
			data = data[idx+1:]
		}
	}
	return data
}

// Kind returns the declared kind, deriving one from the MIME type when the
// client did not set it.
func (a Attachment) Kind() Kind {
	if a.Type != "" {
		return a.Type
	}
	switch {
	case strings.HasPrefix(a.MimeType, "image/"):
		return KindImage
	case a.MimeType == "application/pdf",
		a.MimeType == "application/msword",
		a.MimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDocument
	case strings.HasPrefix(a.MimeType, "text/"):
		return KindText
	default:
		return KindUnknown
	}
}

// BinarySize computes the decoded byte count of a base64 string from its
// length, accounting for '=' padding.
func BinarySize(b64 string) int {
	n := len(b64)
	if n == 0 {
		return 0
	}
	padding := 0
	if strings.HasSuffix(b64, "==") {
		padding = 2
	} else if strings.HasSuffix(b64, "=") {
		padding = 1
	}
	return n*3/4 - padding
}

// Decode returns the raw bytes of the attachment payload.
func (a Attachment) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Base64Payload())
}
