package router

import (
	"fmt"
	"unicode/utf8"

	"github.com/parley/chat-app/internal/protocol"
)

const (
	MaxContentBytes = 4096 // 4KB max content size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that an outbound message meets content
// requirements before anything is persisted. Text messages must carry
// content; image and file messages may use it as an optional caption.
func ValidateContent(kind, content string) error {
	switch kind {
	case protocol.KindText:
		if len(content) == 0 {
			return fmt.Errorf("message content is empty")
		}
	case protocol.KindImage, protocol.KindFile:
		// Content is an optional caption for attachments.
	default:
		return fmt.Errorf("unknown message type %q", kind)
	}

	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
