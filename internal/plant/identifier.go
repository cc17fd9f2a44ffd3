package plant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	// 対応フォーマットのデコーダを登録する
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/hitoshi/ayurleaf/internal/model"
)

var (
	// ErrNotAnImage はアップロードが画像としてデコードできない場合のエラー。
	ErrNotAnImage = errors.New("upload is not a supported image")
	// ErrUploadTooLarge はアップロードが上限サイズを超えた場合のエラー。
	ErrUploadTooLarge = errors.New("upload exceeds maximum size")
)

// DefaultMaxUploadBytes はアップロードサイズ上限のデフォルト値（10MiB）。
const DefaultMaxUploadBytes int64 = 10 << 20

// prediction は識別結果の固定データ。
type prediction struct {
	name        string
	confidence  float64
	properties  []string
	description string
}

// predictions はアップロードごとに順番に返す識別結果。
var predictions = []prediction{
	{
		name:       "Tulsi (Holy Basil)",
		confidence: 95.8,
		properties: []string{
			"Anti-inflammatory",
			"Adaptogenic",
			"Immunomodulator",
			"Antioxidant",
			"Antimicrobial",
		},
		description: "Tulsi is a sacred plant in traditional Indian medicine, known for its diverse healing properties. It helps in respiratory disorders, reduces stress and anxiety, boosts immunity, and has powerful anti-inflammatory effects.",
	},
	{
		name:       "Neem",
		confidence: 94.2,
		properties: []string{
			"Antibacterial",
			"Antifungal",
			"Blood purifier",
			"Immune booster",
			"Skin health",
		},
		description: "Neem is renowned for its powerful medicinal properties. It's used extensively in treating skin conditions, dental care, and as a natural blood purifier. Its antibacterial and antifungal properties make it valuable in traditional medicine.",
	},
	{
		name:       "Aloe Vera",
		confidence: 96.5,
		properties: []string{
			"Wound healing",
			"Anti-inflammatory",
			"Digestive health",
			"Skin moisturizing",
			"Burns treatment",
		},
		description: "Aloe Vera is celebrated for its healing properties. The gel from its leaves is used for treating burns, improving skin health, aiding digestion, and reducing inflammation. It's rich in antioxidants and has natural cooling properties.",
	},
}

// IdentifierConfig はIdentifierの設定。
type IdentifierConfig struct {
	Delay    time.Duration // 解析中を表す待ち時間
	MaxBytes int64         // アップロードサイズ上限。0以下ならDefaultMaxUploadBytes
}

// Identifier はアップロード画像の識別をシミュレートする。
// 実際の分類は行わず、セッションごとのアップロード回数に応じて固定の結果を順番に返す。
type Identifier struct {
	config IdentifierConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

// NewIdentifier はIdentifierを生成する。
func NewIdentifier(config IdentifierConfig, logger *slog.Logger) *Identifier {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Identifier{
		config: config,
		logger: logger,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

// MaxBytes はアップロードサイズ上限を返す。
func (id *Identifier) MaxBytes() int64 {
	return id.config.MaxBytes
}

// Identify は画像を検証し、解析待ちの後に識別結果を返す。
// sessionKeyごとにアップロード回数を数え、固定の3件を順番に返す。
// 検証に失敗した場合・ctxがキャンセルされた場合は回数を進めない。
func (id *Identifier) Identify(ctx context.Context, sessionKey string, r io.Reader) (*model.Identification, error) {
	format, err := id.validate(r)
	if err != nil {
		return nil, err
	}

	if id.config.Delay > 0 {
		timer := time.NewTimer(id.config.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("解析が中断されました: %w", ctx.Err())
		}
	}

	id.mu.Lock()
	n := id.counts[sessionKey]
	id.counts[sessionKey] = n + 1
	id.mu.Unlock()

	p := predictions[n%len(predictions)]

	id.logger.Info("plant identified",
		slog.String("plant", p.name),
		slog.String("format", format),
		slog.Int("upload_count", n+1),
	)

	return &model.Identification{
		ID:          uuid.New().String(),
		Name:        p.name,
		Confidence:  p.confidence,
		Properties:  append([]string(nil), p.properties...),
		Description: p.description,
		ImageFormat: format,
		AnalyzedAt:  id.now(),
	}, nil
}

// Forget はセッションのアップロード回数を破棄する。
func (id *Identifier) Forget(sessionKey string) {
	id.mu.Lock()
	delete(id.counts, sessionKey)
	id.mu.Unlock()
}

// validate はアップロードがサイズ上限内の画像であることを検証し、フォーマット名を返す。
func (id *Identifier) validate(r io.Reader) (string, error) {
	// 上限+1バイトまで読めたら超過と判定する
	limited := &countingReader{r: io.LimitReader(r, id.config.MaxBytes+1)}
	br := bufio.NewReader(limited)

	_, format, err := image.DecodeConfig(br)
	if err != nil {
		if limited.n > id.config.MaxBytes {
			return "", ErrUploadTooLarge
		}
		return "", ErrNotAnImage
	}

	// ヘッダー以降も読み切ってサイズを確認する
	if _, err := io.Copy(io.Discard, br); err != nil {
		return "", fmt.Errorf("アップロードの読み込みに失敗しました: %w", err)
	}
	if limited.n > id.config.MaxBytes {
		return "", ErrUploadTooLarge
	}
	return format, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
