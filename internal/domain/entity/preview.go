package entity

import (
	"strings"
	"unicode/utf8"
)

const (
	PhotoPreview = "📷 Photo"
	VideoPreview = "🎥 Video"

	// PreviewDisplayWidth is the rune budget of a preview in list views.
	PreviewDisplayWidth = 35
)

// DerivePreview is the single definition of a message's conversation preview.
// Send, realtime receive and backfill all call it.
func DerivePreview(text string, attachments []Attachment) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	if len(attachments) == 0 {
		return ""
	}
	switch attachments[0].Type {
	case MediaImage:
		return PhotoPreview
	case MediaVideo:
		return VideoPreview
	}
	return ""
}

func (m *Message) Preview() string {
	return DerivePreview(m.Text, m.Attachments)
}

// TruncatePreview shortens s to max runes for list display.
func TruncatePreview(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}
