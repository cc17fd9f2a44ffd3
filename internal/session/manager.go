package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/ayurleaf/internal/model"
)

// Backend はセッションレコードの永続化先。
// repository.PostgresSessionRepoとMemoryBackendが実装する。
type Backend interface {
	// FindByToken は指定トークンのレコードを取得する。存在しない・期限切れの場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.SessionRecord, error)
	// Upsert はレコードを作成または更新する。
	Upsert(ctx context.Context, rec *model.SessionRecord) error
	// DeleteByToken は指定トークンのレコードを削除する。
	DeleteByToken(ctx context.Context, token string) error
}

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	MaxAge        time.Duration // セッションの有効期間。保存のたびに延長する
	SweepInterval time.Duration // メモリ上のStoreを掃除する間隔。0なら掃除ループを起動しない
	Store         Config
	// OnEvict はSweepでメモリから取り除いたトークンごとに呼ばれる。nil可
	OnEvict func(token string)
}

// Handle はリクエストに紐付いたセッション。
type Handle struct {
	Token string
	Store *Store

	isNew         bool
	retain        bool
	refresh       bool
	openedVersion uint64
}

// IsNew はこのリクエストでトークンが新規発行されたかを返す。
// 新規発行されたStoreは、変更されるかRetainされるまでManagerに登録されない。
func (h *Handle) IsNew() bool {
	return h.isNew
}

// Changed はOpen以降にStoreの状態が変更されたかを返す。
func (h *Handle) Changed() bool {
	return h.Store.Version() != h.openedVersion
}

// Retain は未ログインのままでも新規セッションをManagerに登録させる。
// セッション単位の状態（植物識別の回数など）を次のリクエストに引き継ぐ場合に呼ぶ。
func (h *Handle) Retain() {
	h.retain = true
}

// NeedsRefresh は有効期限の残りが半分を切っており、Cookieとレコードの延長が必要かを返す。
func (h *Handle) NeedsRefresh() bool {
	return h.refresh
}

// NeedsSave はレスポンス前にManager.Saveを呼ぶ必要があるかを返す。
func (h *Handle) NeedsSave() bool {
	return h.Changed() || h.refresh || (h.isNew && h.retain)
}

// managedStore はメモリ上に保持しているStoreと最終アクセス時刻。
type managedStore struct {
	store      *Store
	lastAccess time.Time
	expiresAt  time.Time // Backend上のレコードの有効期限。未保存ならゼロ値
}

// Manager はブラウザセッションのトークンごとにStoreを1つ割り当てる。
// Storeはメモリ上にキャッシュし、変更があればBackendに書き戻す。
type Manager struct {
	backend Backend
	config  ManagerConfig
	now     func() time.Time

	mu     sync.Mutex
	stores map[string]*managedStore

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager は新しいManagerを生成する。
// SweepIntervalが正の場合はバックグラウンドで期限切れStoreの掃除を開始する。
func NewManager(backend Backend, config ManagerConfig) *Manager {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	m := &Manager{
		backend: backend,
		config:  config,
		now:     time.Now,
		stores:  make(map[string]*managedStore),
		stopCh:  make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go m.sweepLoop()
	}

	return m
}

// Stop は掃除のバックグラウンドゴルーチンを停止する。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// Open はトークンに対応するセッションを返す。
// メモリ上になければBackendから復元し、Backendにもなければ
// 新しいトークンで未ログイン状態のセッションを発行する。
// 新しいセッションはSaveされるまでメモリに登録しない。
func (m *Manager) Open(ctx context.Context, token string) (*Handle, error) {
	if token != "" {
		if ms, ok := m.lookup(token); ok {
			return &Handle{
				Token:         token,
				Store:         ms.store,
				refresh:       m.expiring(ms.expiresAt),
				openedVersion: ms.store.Version(),
			}, nil
		}

		rec, err := m.backend.FindByToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to find session: %w", err)
		}
		if rec != nil {
			ms := m.adopt(token, RestoreStore(*rec, m.config.Store), rec.ExpiresAt)
			return &Handle{
				Token:         token,
				Store:         ms.store,
				refresh:       m.expiring(ms.expiresAt),
				openedVersion: ms.store.Version(),
			}, nil
		}
	}

	newToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	store := NewStore(m.config.Store)
	return &Handle{Token: newToken, Store: store, isNew: true, openedVersion: store.Version()}, nil
}

// Save はStoreの状態をBackendに書き戻し、新規セッションであればメモリに登録する。
// 未ログイン状態になったセッションはBackendから削除する。
func (m *Manager) Save(ctx context.Context, h *Handle) error {
	ms := m.adopt(h.Token, h.Store, time.Time{})
	rec := h.Store.Record()

	if !rec.Authenticated && rec.CodeDigest == "" {
		if h.isNew {
			return nil
		}
		if err := m.backend.DeleteByToken(ctx, h.Token); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		m.setExpiresAt(ms, time.Time{})
		return nil
	}

	now := m.now()
	rec.Token = h.Token
	rec.ExpiresAt = now.Add(m.config.MaxAge)
	rec.UpdatedAt = now

	if err := m.backend.Upsert(ctx, &rec); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.setExpiresAt(ms, rec.ExpiresAt)
	return nil
}

// Len はメモリ上に保持しているStoreの数を返す。テストおよびメトリクス用。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// Sweep は最終アクセスからMaxAgeを超えたStoreをメモリから取り除く。
// Backend上のレコードはcleanupジョブが削除する。
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var evicted []string
	for token, ms := range m.stores {
		if now.Sub(ms.lastAccess) > m.config.MaxAge {
			delete(m.stores, token)
			evicted = append(evicted, token)
		}
	}
	m.mu.Unlock()

	if m.config.OnEvict != nil {
		for _, token := range evicted {
			m.config.OnEvict(token)
		}
	}
	return len(evicted)
}

// lookup はメモリ上のStoreを探し、最終アクセス時刻を更新する。
func (m *Manager) lookup(token string) (managedStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.stores[token]
	if !ok {
		return managedStore{}, false
	}
	ms.lastAccess = m.now()
	return *ms, true
}

// adopt はStoreをメモリに登録する。
// 同じトークンで既に登録されていれば既存のエントリを返す（ダブルチェック）。
func (m *Manager) adopt(token string, store *Store, expiresAt time.Time) *managedStore {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.stores[token]; ok {
		ms.lastAccess = m.now()
		return ms
	}
	ms := &managedStore{store: store, lastAccess: m.now(), expiresAt: expiresAt}
	m.stores[token] = ms
	return ms
}

func (m *Manager) setExpiresAt(ms *managedStore, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms.expiresAt = t
}

// expiring はレコードの残り有効期間がMaxAgeの半分を切っているかを返す。
func (m *Manager) expiring(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return expiresAt.Sub(m.now()) < m.config.MaxAge/2
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(m.now())
		case <-m.stopCh:
			return
		}
	}
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
