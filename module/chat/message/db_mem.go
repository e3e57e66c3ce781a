package message

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "CRMProject/module/chat/model"
)

// memDB 内存实现（单测/单机）；语义与 Mongo 实现一致。
type memDB struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*chatmodel.Message
	byCID  map[string]*chatmodel.Message // sender|cid -> msg
}

func NewMemDB() *memDB {
	return &memDB{byCID: make(map[string]*chatmodel.Message)}
}

func keyCID(sender, cid string) string { return sender + "|" + cid }

func (db *memDB) Create(ctx context.Context, in CreateInput) (*chatmodel.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if in.ClientMsgID != "" {
		if prev, ok := db.byCID[keyCID(in.SenderID, in.ClientMsgID)]; ok {
			cp := *prev
			return &cp, nil
		}
	}

	db.nextID++
	m := &chatmodel.Message{
		ID:          db.nextID,
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		ImageURL:    in.ImageURL,
		AudioURL:    in.AudioURL,
		ClientMsgID: in.ClientMsgID,
		CreatedAt:   time.Now(),
	}
	db.rows = append(db.rows, m)
	if in.ClientMsgID != "" {
		db.byCID[keyCID(in.SenderID, in.ClientMsgID)] = m
	}
	cp := *m
	return &cp, nil
}

func (db *memDB) ListConversation(ctx context.Context, userA, userB string) ([]chatmodel.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []chatmodel.Message
	for _, m := range db.rows {
		if between(m, userA, userB) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (db *memDB) UnreadFrom(ctx context.Context, senderID, receiverID string) ([]int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var ids []int64
	for _, m := range db.rows {
		if m.SenderID == senderID && m.ReceiverID == receiverID && m.ReadAt == nil {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (db *memDB) MarkRead(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	now := time.Now()
	var n int64
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range db.rows {
		if _, ok := want[m.ID]; ok && m.ReadAt == nil {
			t := now
			m.ReadAt = &t
			n++
		}
	}
	return n, nil
}

func (db *memDB) CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error) {
	ids, _ := db.UnreadFrom(ctx, senderID, receiverID)
	return int64(len(ids)), nil
}

func (db *memDB) LastMessageBetween(ctx context.Context, userA, userB string) (*chatmodel.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var last *chatmodel.Message
	for _, m := range db.rows {
		if between(m, userA, userB) {
			if last == nil || !m.CreatedAt.Before(last.CreatedAt) {
				last = m
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func between(m *chatmodel.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
