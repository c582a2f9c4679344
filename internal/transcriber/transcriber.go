// Package transcriber turns a voice note into text before classification.
package transcriber

import "context"

// Transcriber converts audio bytes to text. mimeType is the container the
// client recorded (audio/ogg for voice notes).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
