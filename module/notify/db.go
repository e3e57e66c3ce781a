package notify

import (
	"context"

	notifmodel "CRMProject/module/notify/model"
)

// DB 通知持久化抽象：生产实现 Mongo（store.go）；内存实现（db_mem.go）。
type DB interface {
	Create(ctx context.Context, userID, typ string, data map[string]any, link string) (*notifmodel.Notification, error)

	// ListForUser 最近在前，limit 截断。
	ListForUser(ctx context.Context, userID string, limit int64) ([]notifmodel.Notification, error)

	// MarkOneRead 归属校验：非本人 Forbidden，不存在 NotFound；重复置位是空操作。
	MarkOneRead(ctx context.Context, id, requestingUserID string) error

	// MarkAllRead 只动 userID 自己的未读。
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}
