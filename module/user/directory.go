package user

import (
	"context"

	usermodel "CRMProject/module/user/model"
)

// Directory 用户主档只读查询：提及解析与联系人列表都走这里。
// 生产实现 Mongo；内存实现见 directory_mem.go（单测/单机）。
type Directory interface {
	GetByID(ctx context.Context, userID string) (*usermodel.User, error)
	GetByEmail(ctx context.Context, email string) (*usermodel.User, error)
	// GetByName 精确匹配显示名，未命中返回 nil, nil。
	GetByName(ctx context.Context, name string) (*usermodel.User, error)
	// ListByPole 返回某团队全部成员，未命中返回空切片。
	ListByPole(ctx context.Context, pole string) ([]usermodel.User, error)
	ListAll(ctx context.Context) ([]usermodel.User, error)
}
