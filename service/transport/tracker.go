package transport

import (
	"sort"
	"sync"
)

// Tracker 在线状态跟踪器：权威视图就是传输层 sync 快照的并集，
// 不自持久化；传输重启后清零，等各端重连重新 track。
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	sub    Subscription
}

// NewTracker subscribes the presence channel and keeps the latest view.
func NewTracker(t PresenceTransport, channel string) (*Tracker, error) {
	tr := &Tracker{online: make(map[string]struct{})}
	sub, err := t.SubscribeMembers(channel, tr.apply)
	if err != nil {
		return nil, err
	}
	tr.sub = sub
	return tr, nil
}

func (tr *Tracker) apply(ev MemberEvent) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	switch ev.Kind {
	case MemberSync:
		// 快照整体替换：对账补洞
		next := make(map[string]struct{}, len(ev.Members))
		for _, id := range ev.Members {
			next[id] = struct{}{}
		}
		tr.online = next
	case MemberJoin:
		tr.online[ev.Identity] = struct{}{}
	case MemberLeave:
		delete(tr.online, ev.Identity)
	}
}

// OnlineUsers returns the currently-online identities, sorted for stable output.
func (tr *Tracker) OnlineUsers() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]string, 0, len(tr.online))
	for id := range tr.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (tr *Tracker) IsOnline(userID string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	_, ok := tr.online[userID]
	return ok
}

func (tr *Tracker) Close() {
	if tr.sub != nil {
		tr.sub.Unsubscribe()
	}
}
