package blob

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"CRMProject/tools/errs"
)

// Storage 附件对象存储协作方：给字节拿URL。
// 失败以 Upstream 语义上浮（发送方看到500，细节只进日志）。
type Storage interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (url string, err error)
}

// ===== 本地磁盘实现（单机部署） =====

type diskStorage struct {
	dir     string
	baseURL string
}

func NewDiskStorage(dir, baseURL string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.ErrUpstream.WrapMsg("blob dir", "err", err)
	}
	return &diskStorage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *diskStorage) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	name = filepath.Base(name) // 禁止路径穿越
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", errs.ErrUpstream.WrapMsg("blob create", "err", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", errs.ErrUpstream.WrapMsg("blob write", "err", err)
	}
	return s.baseURL + "/" + path.Base(name), nil
}

// ===== 内存实现（单测） =====

type MemStorage struct {
	mu   sync.Mutex
	Objs map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{Objs: make(map[string][]byte)}
}

func (s *MemStorage) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errs.ErrUpstream.WrapMsg("blob read", "err", err)
	}
	s.mu.Lock()
	s.Objs[name] = data
	s.mu.Unlock()
	return "mem://" + name, nil
}
