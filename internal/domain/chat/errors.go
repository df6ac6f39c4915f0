package chat

import "errors"

var (
	// ErrConversationNotFound is returned by stores when a conversation id
	// does not exist (or no longer exists).
	ErrConversationNotFound = errors.New("chat: conversation not found")
	// ErrMessageNotFound is returned by stores for an unknown message id.
	ErrMessageNotFound = errors.New("chat: message not found")
)
