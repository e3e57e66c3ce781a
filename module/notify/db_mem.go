package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	notifmodel "CRMProject/module/notify/model"
	"CRMProject/tools/errs"
)

// memDB 内存实现（单测/单机）
type memDB struct {
	mu   sync.RWMutex
	rows []*notifmodel.Notification
}

func NewMemDB() *memDB {
	return &memDB{}
}

func (db *memDB) Create(ctx context.Context, userID, typ string, data map[string]any, link string) (*notifmodel.Notification, error) {
	n := &notifmodel.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Data:      data,
		Link:      link,
		CreatedAt: time.Now(),
	}
	db.mu.Lock()
	db.rows = append(db.rows, n)
	db.mu.Unlock()
	cp := *n
	return &cp, nil
}

func (db *memDB) ListForUser(ctx context.Context, userID string, limit int64) ([]notifmodel.Notification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []notifmodel.Notification
	for _, n := range db.rows {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *memDB) MarkOneRead(ctx context.Context, id, requestingUserID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, n := range db.rows {
		if n.ID == id {
			if n.UserID != requestingUserID {
				return errs.ErrNoPermission.WrapMsg("not the recipient", "id", id)
			}
			if n.ReadAt == nil {
				t := time.Now()
				n.ReadAt = &t
			}
			return nil
		}
	}
	return errs.ErrRecordNotFound.WrapMsg("notification not found", "id", id)
}

func (db *memDB) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	now := time.Now()
	for _, row := range db.rows {
		if row.UserID == userID && row.ReadAt == nil {
			t := now
			row.ReadAt = &t
			n++
		}
	}
	return n, nil
}
