package model

// 频道事件名（payload 为 JSON）
const (
	EventMessageSent  = "MessageSent"
	EventMessageRead  = "MessageRead"
	EventUserTyping   = "UserTyping"
	EventNotification = "Notification"
)

type MessageSentPayload struct {
	Message Message `json:"message"`
}

type MessageReadPayload struct {
	ReaderID   string  `json:"reader_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type UserTypingPayload struct {
	SenderID string `json:"sender_id"`
}
