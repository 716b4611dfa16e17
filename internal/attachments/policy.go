package attachments

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy holds the attachment limits consulted by both message ingestion and
// history rehydration.
type Policy struct {
	MaxAttachmentsPerMessage int

	MaxImageBytes int
	MaxDocBytes   int
	MaxTextBytes  int

	// MaxTextChars bounds extracted document text; MaxTextFileChars bounds
	// plain text file content.
	MaxTextChars     int
	MaxTextFileChars int

	MaxImageDim int

	DocExtractionDeadline time.Duration
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttachmentsPerMessage: 10,
		MaxImageBytes:            10 * 1024 * 1024,
		MaxDocBytes:              10 * 1024 * 1024,
		MaxTextBytes:             5 * 1024 * 1024,
		MaxTextChars:             8_000,
		MaxTextFileChars:         16_000,
		MaxImageDim:              4096,
		DocExtractionDeadline:    30 * time.Second,
	}
}

// MaxBytesFor returns the size limit for an attachment kind.
func (p Policy) MaxBytesFor(kind Kind) int {
	switch kind {
	case KindImage:
		return p.MaxImageBytes
	case KindDocument:
		return p.MaxDocBytes
	default:
		return p.MaxTextBytes
	}
}

// magicBytes maps declared MIME types to their expected file signatures.
// A MIME type with no entry skips the check.
var magicBytes = map[string][]byte{
	"image/jpeg":      {0xFF, 0xD8, 0xFF},
	"image/png":       {0x89, 0x50, 0x4E, 0x47},
	"image/gif":       {0x47, 0x49, 0x46},
	"image/webp":      {0x52, 0x49, 0x46, 0x46},
	"application/pdf": {0x25, 0x50, 0x44, 0x46},
}

// CheckMagic verifies the payload's file signature against the declared MIME
// type. Returns true when the signature matches or no signature is known.
func CheckMagic(mimeType string, data []byte) bool {
	expected, known := magicBytes[mimeType]
	if !known {
		return true
	}
	if len(data) < len(expected) {
		return false
	}
	return bytes.Equal(data[:len(expected)], expected)
}

// ImageDimensions parses width and height from PNG or JPEG bytes.
// Unparseable input yields (0, 0): dimension checks fail closed.
func ImageDimensions(mimeType string, data []byte) (width, height int, checked bool) {
	switch mimeType {
	case "image/png":
		return pngDimensions(data)
	case "image/jpeg":
		return jpegDimensions(data)
	default:
		// Other image types are bounded by size only.
		return 0, 0, false
	}
}

// pngDimensions reads the IHDR width/height: 32-bit big-endian at byte
// offsets 16 and 20.
func pngDimensions(data []byte) (int, int, bool) {
	if len(data) < 24 {
		return 0, 0, true
	}
	width := int(binary.BigEndian.Uint32(data[16:20]))
	height := int(binary.BigEndian.Uint32(data[20:24]))
	return width, height, true
}

// jpegDimensions scans for a start-of-frame marker (FF C0/C1/C2) and reads
// the 16-bit big-endian height and width that follow it.
func jpegDimensions(data []byte) (int, int, bool) {
	for i := 0; i+8 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}
		marker := data[i+1]
		if marker != 0xC0 && marker != 0xC1 && marker != 0xC2 {
			continue
		}
		height := int(binary.BigEndian.Uint16(data[i+5 : i+7]))
		width := int(binary.BigEndian.Uint16(data[i+7 : i+9]))
		return width, height, true
	}
	// No SOF marker: report zero dimensions so the caller rejects.
	return 0, 0, true
}

// CheckImageDimensions validates parsed dimensions against the policy.
// Returns ok and, when rejected, the user-facing reason.
func (p Policy) CheckImageDimensions(mimeType string, data []byte) (bool, string) {
	width, height, checked := ImageDimensions(mimeType, data)
	if !checked {
		return true, ""
	}
	if width <= 0 || height <= 0 || width > p.MaxImageDim || height > p.MaxImageDim {
		return false, fmt.Sprintf("Image dimensions too large: %dx%d (max: %dx%d)",
			width, height, p.MaxImageDim, p.MaxImageDim)
	}
	return true, ""
}
