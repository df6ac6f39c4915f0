package chat

import "strings"

// MediaKind is the coarse content classification used to pick a rendering
// and handling strategy for a message attachment.
type MediaKind string

const (
	KindText     MediaKind = "text"
	KindImage    MediaKind = "image"
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
)

// Label returns the human form used for degraded reply previews.
func (k MediaKind) Label() string {
	switch k {
	case KindImage:
		return "Image"
	case KindVideo:
		return "Video"
	case KindAudio:
		return "Audio"
	case KindDocument:
		return "Document"
	default:
		return "Message"
	}
}

// KindFromMime maps a MIME type onto a media kind. Anything that is not
// image, video or audio is a generic downloadable document.
func KindFromMime(mimeType string) MediaKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// Resolve returns the explicit kind tag when present, otherwise derives one
// from the MIME type.
func (m MediaRef) Resolve() MediaKind {
	if m.Kind != "" {
		return m.Kind
	}
	return KindFromMime(m.MimeType)
}

// AudioExtension picks a file extension for a recorded audio blob from its
// MIME type. Opus-in-Ogg recordings get .ogg, everything else falls back to
// the WebM container.
func AudioExtension(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if strings.Contains(mt, "ogg") {
		return ".ogg"
	}
	return ".webm"
}
