// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/ayurleaf/internal/session"
)

// SessionRepository はセッションレコードの永続化インターフェース。
// session.Managerのバックエンドとして使用し、cleanupジョブが期限切れレコードを削除する。
type SessionRepository interface {
	session.Backend

	// DeleteExpired はbeforeより前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// compile-time interface check
var _ SessionRepository = (*session.MemoryBackend)(nil)
