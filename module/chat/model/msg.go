package model

import "time"

// Message 点对点消息（聊天历史与未读数的事实来源）。
// content/image_url/audio_url 常规下三选一，模型不强制禁止组合。
type Message struct {
	ID          int64      `bson:"message_id" json:"id"` // 存储层单调分配
	SenderID    string     `bson:"sender_id" json:"senderId"`
	ReceiverID  string     `bson:"receiver_id" json:"receiverId"`
	Content     string     `bson:"content,omitempty" json:"content,omitempty"`
	ImageURL    string     `bson:"image_url,omitempty" json:"imageUrl,omitempty"`
	AudioURL    string     `bson:"audio_url,omitempty" json:"audioUrl,omitempty"`
	ClientMsgID string     `bson:"client_msg_id,omitempty" json:"clientMsgId,omitempty"` // 客户端幂等键（可选）
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	ReadAt      *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"` // 置位后不再清除
}

// 查询用字段名
const (
	MsgFieldID          = "message_id"
	MsgFieldSenderID    = "sender_id"
	MsgFieldReceiverID  = "receiver_id"
	MsgFieldClientMsgID = "client_msg_id"
	MsgFieldCreatedAt   = "created_at"
	MsgFieldReadAt      = "read_at"
)

// Contact 联系人列表的一行：对端用户 + 未读/最近消息摘要。
type Contact struct {
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Pole        string     `json:"pole,omitempty"`
	FaceURL     string     `json:"faceUrl,omitempty"`
	UnreadCount int64      `json:"unreadCount"`
	LastMessage *Message   `json:"lastMessage,omitempty"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}
