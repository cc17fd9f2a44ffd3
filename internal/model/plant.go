package model

import "time"

// PlantInfo は薬用植物カタログの1エントリを表す。
type PlantInfo struct {
	Name        string   `json:"name"`
	Properties  []string `json:"properties"`
	Description string   `json:"description"`
}

// Identification は画像1枚に対する識別結果を表す。
type Identification struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Confidence  float64   `json:"confidence"` // パーセント
	Properties  []string  `json:"properties"`
	Description string    `json:"description"`
	ImageFormat string    `json:"image_format"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// ClassScore はモデル比較における1クラスの信頼度。
type ClassScore struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"` // パーセント
}

// ModelResult は1モデル分の比較結果。
type ModelResult struct {
	Model           string       `json:"model"`
	Predictions     []ClassScore `json:"predictions"`
	InferenceTimeMs int          `json:"inference_time_ms"`
}
