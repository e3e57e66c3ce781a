package message

import (
	"context"

	chatmodel "CRMProject/module/chat/model"
)

// CreateInput 新消息入参；附件URL已由上层换好。
type CreateInput struct {
	SenderID    string
	ReceiverID  string
	Content     string
	ImageURL    string
	AudioURL    string
	ClientMsgID string // 可选幂等键；同一发送者重复提交返回原记录
}

// DB 消息持久化抽象：生产实现 Mongo（store.go）；内存实现（db_mem.go）。
// MarkRead 必须原子且幂等；Create 的ID由存储层单调分配。
type DB interface {
	Create(ctx context.Context, in CreateInput) (*chatmodel.Message, error)

	// ListConversation 双向全量，created_at 升序。
	ListConversation(ctx context.Context, userA, userB string) ([]chatmodel.Message, error)

	// UnreadFrom 返回 sender 发给 receiver 且未读的消息ID集合。
	UnreadFrom(ctx context.Context, senderID, receiverID string) ([]int64, error)

	// MarkRead 把仍未读的 ids 置位 read_at=now，返回实际置位条数。
	// 已读的ID再次提交是空操作。
	MarkRead(ctx context.Context, ids []int64) (int64, error)

	CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error)

	// LastMessageBetween 双向最近一条；没有返回 nil, nil。
	LastMessageBetween(ctx context.Context, userA, userB string) (*chatmodel.Message, error)
}
