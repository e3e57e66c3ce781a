package model

import "time"

// Role
const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// User 表示 CRM 中的应用用户（座席/商务/管理员）。
// 仅放主档关键信息；业务实体（客户/商机等）由外部持久层负责。
type User struct {
	UserID    string    `bson:"user_id" json:"id"`              // 全局唯一、不可变的用户ID（主键）
	Name      string    `bson:"name" json:"name"`               // 显示名（@提及按此精确匹配）
	Email     string    `bson:"email" json:"email"`             // 登录邮箱
	Role      string    `bson:"role" json:"role"`               // user / manager / admin
	Pole      string    `bson:"pole,omitempty" json:"pole"`     // 所属团队（@提及可按团队整体命中）
	FaceURL   string    `bson:"face_url,omitempty" json:"faceUrl"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// 查询用字段名
const (
	UserFieldUserID = "user_id"
	UserFieldName   = "name"
	UserFieldEmail  = "email"
	UserFieldPole   = "pole"
)

// Principal 是鉴权层解析出的调用方身份。
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Pole  string `json:"pole"`
}

func (u *User) Principal() Principal {
	return Principal{ID: u.UserID, Email: u.Email, Role: u.Role, Pole: u.Pole}
}
