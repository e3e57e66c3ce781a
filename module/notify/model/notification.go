package model

import "time"

// Type 判别器
const (
	TypeMention     = "mention"
	TypeTodoOverdue = "todo_overdue"
	TypeDailyDigest = "daily_digest"
)

// Notification 单收件人通知；data 形态由 type 决定（读取侧用 tools/decode 还原）。
type Notification struct {
	ID        string         `bson:"notification_id" json:"id"`
	UserID    string         `bson:"user_id" json:"userId"` // 唯一收件人
	Type      string         `bson:"type" json:"type"`
	Data      map[string]any `bson:"data,omitempty" json:"data,omitempty"`
	Link      string         `bson:"link,omitempty" json:"link,omitempty"`
	CreatedAt time.Time      `bson:"created_at" json:"createdAt"`
	ReadAt    *time.Time     `bson:"read_at,omitempty" json:"readAt,omitempty"` // 置位后不再清除
}

// 查询用字段名
const (
	NotifFieldID        = "notification_id"
	NotifFieldUserID    = "user_id"
	NotifFieldCreatedAt = "created_at"
	NotifFieldReadAt    = "read_at"
)

// MentionData 提及通知的负载。
type MentionData struct {
	Text        string `json:"text"`        // 原文前100字符，截断加 "..."
	MentionedBy string `json:"mentionedBy"` // 作者显示名
}

func (d MentionData) Map() map[string]any {
	return map[string]any{"text": d.Text, "mentionedBy": d.MentionedBy}
}
