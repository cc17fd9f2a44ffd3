// Package otp はログイン確認用の6桁ワンタイムコードを生成する。
//
// 生成されるコードは常に [100000, 999999] の範囲の10進6桁で、先頭ゼロは発生しない。
// 有効期限や試行回数の管理は行わない。デモ用途の生成器であり、
// 本番の資格情報発行には有効期限・試行回数制限・レート制限と組み合わせる必要がある。
package otp

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"strconv"
	"sync"
)

const (
	// MinCode は生成されるコードの最小値。
	MinCode = 100000
	// MaxCode は生成されるコードの最大値。
	MaxCode = 999999
	// Length はコードの桁数。
	Length = 6
)

// codeSpan は [MinCode, MaxCode] に含まれる値の個数。
const codeSpan = MaxCode - MinCode + 1

// Generator はワンタイムコードの生成器。
type Generator interface {
	// Generate は6桁の数字文字列を返す。
	Generate() string
}

// cryptoGenerator はcrypto/randを乱数源とする生成器。
type cryptoGenerator struct{}

// NewGenerator は暗号論的乱数を使う生成器を返す。
func NewGenerator() Generator {
	return cryptoGenerator{}
}

// Generate は6桁のコードを生成する。
// crypto/randの読み取りに失敗するのはOSの乱数源が利用できない場合のみで、
// その状態では処理を継続できないためpanicする。
func (cryptoGenerator) Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		panic("otp: crypto/rand unavailable: " + err.Error())
	}
	return strconv.FormatInt(MinCode+n.Int64(), 10)
}

// mathGenerator はmath/rand/v2のPCGを乱数源とする生成器。
// 同じシードからは同じ系列を生成する。
type mathGenerator struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewMathGenerator は非暗号論的乱数を使う生成器を返す。
// テストや、デモモード（OTP_RANDOM_SOURCE=math）で使用する。
func NewMathGenerator(seed1, seed2 uint64) Generator {
	return &mathGenerator{
		rng: mrand.New(mrand.NewPCG(seed1, seed2)),
	}
}

// Generate は6桁のコードを生成する。
func (g *mathGenerator) Generate() string {
	g.mu.Lock()
	n := g.rng.IntN(codeSpan)
	g.mu.Unlock()
	return strconv.Itoa(MinCode + n)
}

// FromSource は設定値の乱数源名から生成器を選ぶ。
// "math" 以外はすべて暗号論的乱数を使う。
func FromSource(source string) Generator {
	if source == "math" {
		return NewMathGenerator(mrand.Uint64(), mrand.Uint64())
	}
	return NewGenerator()
}

// IsWellFormed はcodeが6桁の数字のみで構成されているかを判定する。
func IsWellFormed(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
