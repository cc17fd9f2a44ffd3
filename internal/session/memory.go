package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/ayurleaf/internal/model"
)

// MemoryBackend はプロセス内のマップにレコードを保持するBackend。
// DATABASE_URL未設定時に使用する。再起動で内容は失われる。
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]model.SessionRecord
	now     func() time.Time
}

// NewMemoryBackend はMemoryBackendを生成する。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]model.SessionRecord),
		now:     time.Now,
	}
}

// FindByToken は指定トークンのレコードを取得する。期限切れの場合はnilを返す。
func (b *MemoryBackend) FindByToken(_ context.Context, token string) (*model.SessionRecord, error) {
	b.mu.RLock()
	rec, ok := b.records[token]
	b.mu.RUnlock()

	if !ok || !rec.ExpiresAt.After(b.now()) {
		return nil, nil
	}
	return &rec, nil
}

// Upsert はレコードを作成または更新する。
func (b *MemoryBackend) Upsert(_ context.Context, rec *model.SessionRecord) error {
	b.mu.Lock()
	b.records[rec.Token] = *rec
	b.mu.Unlock()
	return nil
}

// DeleteByToken は指定トークンのレコードを削除する。
func (b *MemoryBackend) DeleteByToken(_ context.Context, token string) error {
	b.mu.Lock()
	delete(b.records, token)
	b.mu.Unlock()
	return nil
}

// DeleteExpired は期限切れのレコードを削除し、削除件数を返す。
func (b *MemoryBackend) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for token, rec := range b.records {
		if rec.ExpiresAt.Before(before) {
			delete(b.records, token)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var _ Backend = (*MemoryBackend)(nil)
