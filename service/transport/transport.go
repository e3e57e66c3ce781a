package transport

import "strings"

// 频道命名：1:1 消息每个接收者一个频道；全局在线一个共享频道。
const OnlineUsersChannel = "online-users"

func ChatChannel(userID string) string { return "chat:" + userID }

// Event 频道上投递的一条带名事件（payload 为 JSON）。
type Event struct {
	Channel string
	Name    string
	Payload []byte
}

type Handler func(ev Event)

type Subscription interface {
	Unsubscribe()
}

// Transport 多订阅者广播原语。
// Publish 即发即忘：零订阅者是空操作；对同一频道的同一存活订阅者，
// 投递顺序与发布顺序一致；跨频道不保证顺序。
type Transport interface {
	Publish(channel, event string, payload []byte) error
	Subscribe(channel string, h Handler) (Subscription, error)
	Close() error
}

// Member 事件类型
const (
	MemberJoin  = "join"
	MemberLeave = "leave"
	MemberSync  = "sync"
)

// MemberEvent 在线频道的成员变化/快照。
// Sync 携带全量成员集；Join/Leave 携带单个身份。
type MemberEvent struct {
	Kind     string
	Identity string
	Members  []string
}

// PresenceTransport 支持成员跟踪的频道：Track 宣告身份，
// 订阅者通过 sync 快照重建成员集。
type PresenceTransport interface {
	Transport
	// Track 宣告 identity 加入 channel；返回的 untrack 停止跟踪
	//（尽力而为：网络断开时靠传输层自身的断连检测兜底）。
	Track(channel, identity string) (untrack func(), err error)
	SubscribeMembers(channel string, h func(MemberEvent)) (Subscription, error)
}

// SubjectOf maps a channel name to a broker-safe subject token.
func SubjectOf(prefix, channel string) string {
	return prefix + "." + strings.ReplaceAll(channel, ":", ".")
}
