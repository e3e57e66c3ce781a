package transport

import (
	"sync"
	"time"

	"CRMProject/logger"
)

// ===== 配置 =====

type HubConf struct {
	QueueSize int           // 每订阅者队列长度（默认 256）
	SyncEvery time.Duration // 在线频道周期性全量快照（默认 30s；<=0 关闭）
}

func (c *HubConf) norm() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SyncEvery == 0 {
		c.SyncEvery = 30 * time.Second
	}
}

// Hub 进程内传输实现。
// 每个订阅者独立 goroutine + 有界队列：同频道投递保序，
// 慢订阅者丢弃（不阻塞发布方）——临时信号尽力而为，存储才是权威。
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*hubSub]struct{}    // channel -> subscribers
	msubs   map[string]map[*memberSub]struct{} // channel -> member subscribers
	members map[string]map[string]int          // channel -> identity -> 连接数
	conf    HubConf

	stopOnce sync.Once
	stopCh   chan struct{}
}

type hubSub struct {
	hub     *Hub
	channel string
	ch      chan Event
	once    sync.Once
}

type memberSub struct {
	hub     *Hub
	channel string
	ch      chan MemberEvent
	once    sync.Once
}

func NewHub(conf HubConf) *Hub {
	conf.norm()
	h := &Hub{
		subs:    make(map[string]map[*hubSub]struct{}),
		msubs:   make(map[string]map[*memberSub]struct{}),
		members: make(map[string]map[string]int),
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
	if conf.SyncEvery > 0 {
		go h.syncLoop()
	}
	return h
}

func (h *Hub) Close() error {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	for _, set := range h.msubs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	h.subs = make(map[string]map[*hubSub]struct{})
	h.msubs = make(map[string]map[*memberSub]struct{})
	return nil
}

// ===== Transport =====

func (h *Hub) Publish(channel, event string, payload []byte) error {
	ev := Event{Channel: channel, Name: event, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	// 零订阅者：空操作
	for s := range h.subs[channel] {
		select {
		case s.ch <- ev:
		default:
			// 慢订阅者：丢弃本条（不阻塞同频道其他订阅者）
			logger.Warnf("[hub] drop event %s for slow subscriber on %s", event, channel)
		}
	}
	return nil
}

func (h *Hub) Subscribe(channel string, handler Handler) (Subscription, error) {
	s := &hubSub{hub: h, channel: channel, ch: make(chan Event, h.conf.QueueSize)}
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*hubSub]struct{})
	}
	h.subs[channel][s] = struct{}{}
	h.mu.Unlock()

	go func() {
		for ev := range s.ch {
			handler(ev)
		}
	}()
	return s, nil
}

func (s *hubSub) Unsubscribe() {
	h := s.hub
	h.mu.Lock()
	if set := h.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.channel)
		}
	}
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// ===== Presence =====

func (h *Hub) Track(channel, identity string) (func(), error) {
	h.mu.Lock()
	if h.members[channel] == nil {
		h.members[channel] = make(map[string]int)
	}
	h.members[channel][identity]++
	first := h.members[channel][identity] == 1
	h.mu.Unlock()

	if first {
		h.emitMember(channel, MemberEvent{Kind: MemberJoin, Identity: identity})
	}
	h.emitSync(channel)

	var once sync.Once
	untrack := func() {
		once.Do(func() {
			h.mu.Lock()
			last := false
			if m := h.members[channel]; m != nil {
				m[identity]--
				if m[identity] <= 0 {
					delete(m, identity)
					last = true
				}
				if len(m) == 0 {
					delete(h.members, channel)
				}
			}
			h.mu.Unlock()
			if last {
				h.emitMember(channel, MemberEvent{Kind: MemberLeave, Identity: identity})
			}
			h.emitSync(channel)
		})
	}
	return untrack, nil
}

func (h *Hub) SubscribeMembers(channel string, handler func(MemberEvent)) (Subscription, error) {
	s := &memberSub{hub: h, channel: channel, ch: make(chan MemberEvent, h.conf.QueueSize)}
	h.mu.Lock()
	if h.msubs[channel] == nil {
		h.msubs[channel] = make(map[*memberSub]struct{})
	}
	h.msubs[channel][s] = struct{}{}
	h.mu.Unlock()

	go func() {
		for ev := range s.ch {
			handler(ev)
		}
	}()

	// 订阅即给一份全量快照
	s.trySend(MemberEvent{Kind: MemberSync, Members: h.snapshot(channel)})
	return s, nil
}

func (s *memberSub) Unsubscribe() {
	h := s.hub
	h.mu.Lock()
	if set := h.msubs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.msubs, s.channel)
		}
	}
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

func (s *memberSub) trySend(ev MemberEvent) {
	defer func() { recover() }() // 已关闭的订阅直接忽略
	select {
	case s.ch <- ev:
	default:
	}
}

func (h *Hub) snapshot(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m := h.members[channel]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func (h *Hub) emitMember(channel string, ev MemberEvent) {
	h.mu.RLock()
	subs := make([]*memberSub, 0, len(h.msubs[channel]))
	for s := range h.msubs[channel] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.trySend(ev)
	}
}

func (h *Hub) emitSync(channel string) {
	snap := h.snapshot(channel)
	h.mu.RLock()
	subs := make([]*memberSub, 0, len(h.msubs[channel]))
	for s := range h.msubs[channel] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.trySend(MemberEvent{Kind: MemberSync, Members: snap})
	}
}

func (h *Hub) syncLoop() {
	t := time.NewTicker(h.conf.SyncEvery)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-t.C:
			h.mu.RLock()
			channels := make([]string, 0, len(h.msubs))
			for c := range h.msubs {
				channels = append(channels, c)
			}
			h.mu.RUnlock()
			for _, c := range channels {
				h.emitSync(c)
			}
		}
	}
}
