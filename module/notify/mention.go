package notify

import (
	"context"
	"encoding/json"
	"regexp"

	chatmodel "CRMProject/module/chat/model"
	notifmodel "CRMProject/module/notify/model"
	"CRMProject/module/user"
	usermodel "CRMProject/module/user/model"
	"CRMProject/service/transport"

	"CRMProject/logger"
)

var mentionRe = regexp.MustCompile(`@(\w+)`)

const excerptLimit = 100

// 提及内容挂靠的记录类型
const (
	RefClient   = "client"
	RefProspect = "prospect"
)

// ContentRef 提及文本挂靠的业务记录（决定通知跳转链接）。
type ContentRef struct {
	Kind string // client / prospect / ""
	ID   string
}

func (r ContentRef) link() string {
	switch r.Kind {
	case RefClient:
		return "/clients/" + r.ID
	case RefProspect:
		return "/prospects/" + r.ID
	default:
		return "/"
	}
}

// Dispatcher 提及派发：与内容创建同步执行，但纯属旁路——
// 解析或落库失败只记日志，绝不让内容创建本身回滚。
type Dispatcher struct {
	DB  DB
	Dir user.Directory
	Bus transport.Transport
}

func NewDispatcher(db DB, dir user.Directory, bus transport.Transport) *Dispatcher {
	return &Dispatcher{DB: db, Dir: dir, Bus: bus}
}

// Dispatch 扫描 text 中的 @token，按精确用户名或团队名解析收件人，
// 去重、排除作者本人，为每人落一条 mention 通知并广播。
// 返回实际创建的通知（观测/测试用）。
func (d *Dispatcher) Dispatch(ctx context.Context, authorID, authorName, text string, ref ContentRef) []notifmodel.Notification {
	recipients := d.resolve(ctx, authorID, text)
	if len(recipients) == 0 {
		return nil
	}

	data := notifmodel.MentionData{
		Text:        excerpt(text),
		MentionedBy: authorName,
	}
	link := ref.link()

	out := make([]notifmodel.Notification, 0, len(recipients))
	for _, r := range recipients {
		n, err := d.DB.Create(ctx, r.UserID, notifmodel.TypeMention, data.Map(), link)
		if err != nil {
			logger.Warnf("[mention] create notification for %s failed: %v", r.UserID, err)
			continue
		}
		d.fanout(r.UserID, *n)
		out = append(out, *n)
	}
	return out
}

// resolve 同一命名空间先按用户名、再按团队名匹配（同名会双重命中，
// 按用户ID去重兜底；歧义只打 debug，不悄悄吞）。
func (d *Dispatcher) resolve(ctx context.Context, authorID, text string) []usermodel.User {
	seen := make(map[string]struct{})
	var out []usermodel.User

	add := func(u usermodel.User) {
		if u.UserID == authorID {
			return // 永不通知作者本人，即便自提及
		}
		if _, ok := seen[u.UserID]; ok {
			return
		}
		seen[u.UserID] = struct{}{}
		out = append(out, u)
	}

	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		token := m[1]

		u, err := d.Dir.GetByName(ctx, token)
		if err != nil {
			logger.Warnf("[mention] resolve name %q failed: %v", token, err)
		} else if u != nil {
			add(*u)
		}

		team, err := d.Dir.ListByPole(ctx, token)
		if err != nil {
			logger.Warnf("[mention] resolve pole %q failed: %v", token, err)
			continue
		}
		if u != nil && len(team) > 0 {
			logger.Debug("[mention] token matches both a user and a pole: " + token)
		}
		for _, t := range team {
			add(t)
		}
	}
	return out
}

func (d *Dispatcher) fanout(userID string, n notifmodel.Notification) {
	data, err := json.Marshal(map[string]any{"notification": n})
	if err != nil {
		logger.Errorf("[mention] marshal notification: %v", err)
		return
	}
	// Publish 本身不阻塞，串行调用保持同频道事件的先后
	if err := d.Bus.Publish(transport.ChatChannel(userID), chatmodel.EventNotification, data); err != nil {
		logger.Warnf("[mention] fanout to %s failed: %v", userID, err)
	}
}

// excerpt 前100字符，截断加 "..."
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit]) + "..."
}
