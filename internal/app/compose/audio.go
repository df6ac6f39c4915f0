package compose

import (
	"fmt"
	"time"

	"crmsync/internal/domain/chat"
)

// AudioAttachment wraps a recorded audio blob as a file attachment, naming
// it from the recording time with an extension chosen from the MIME type
// (Opus-in-Ogg preferred, WebM fallback). It then flows through the same
// upload-then-send pipeline as any other file.
func AudioAttachment(data []byte, mimeType string, recordedAt time.Time) Attachment {
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	name := fmt.Sprintf("voice-%s%s", recordedAt.UTC().Format("20060102-150405"), chat.AudioExtension(mimeType))
	return Attachment{Name: name, MimeType: mimeType, Data: data}
}
