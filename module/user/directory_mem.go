package user

import (
	"context"
	"sync"

	usermodel "CRMProject/module/user/model"
	"CRMProject/tools/errs"
)

// memDirectory 内存实现（单测/单机）
type memDirectory struct {
	mu    sync.RWMutex
	byID  map[string]*usermodel.User
	order []string
}

func NewMemDirectory(users ...usermodel.User) *memDirectory {
	d := &memDirectory{byID: make(map[string]*usermodel.User)}
	for i := range users {
		d.Put(users[i])
	}
	return d
}

func (d *memDirectory) Put(u usermodel.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[u.UserID]; !ok {
		d.order = append(d.order, u.UserID)
	}
	cp := u
	d.byID[u.UserID] = &cp
}

func (d *memDirectory) GetByID(ctx context.Context, userID string) (*usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.byID[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, errs.ErrRecordNotFound.WrapMsg("user not found", "user_id", userID)
}

func (d *memDirectory) GetByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if d.byID[id].Email == email {
			cp := *d.byID[id]
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordNotFound.WrapMsg("user not found", "email", email)
}

func (d *memDirectory) GetByName(ctx context.Context, name string) (*usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if d.byID[id].Name == name {
			cp := *d.byID[id]
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) ListByPole(ctx context.Context, pole string) ([]usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []usermodel.User
	for _, id := range d.order {
		if d.byID[id].Pole == pole {
			out = append(out, *d.byID[id])
		}
	}
	return out, nil
}

func (d *memDirectory) ListAll(ctx context.Context) ([]usermodel.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]usermodel.User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.byID[id])
	}
	return out, nil
}
