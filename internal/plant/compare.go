package plant

import "github.com/hitoshi/ayurleaf/internal/model"

// comparisonClasses はモデル比較で使う10クラス。
var comparisonClasses = []string{
	"Tulsi (Holy Basil)",
	"Neem",
	"Aloe Vera",
	"Turmeric",
	"Mint",
	"Ginger",
	"Lemongrass",
	"Moringa",
	"Ashwagandha",
	"Brahmi",
}

// comparedModels は比較対象モデルの固定パラメータ。
var comparedModels = []struct {
	name        string
	inferenceMs int
	base        float64
	step        float64
}{
	{name: "MobileNetV2", inferenceMs: 120, base: 0.9, step: 0.2},
	{name: "EfficientNetV2", inferenceMs: 180, base: 0.95, step: 0.15},
}

// topClasses は各モデルが返す上位クラス数。
const topClasses = 3

// CompareModels はMobileNetV2とEfficientNetV2の比較結果（固定値）を返す。
func CompareModels() []model.ModelResult {
	results := make([]model.ModelResult, 0, len(comparedModels))
	for _, m := range comparedModels {
		scores := make([]model.ClassScore, 0, topClasses)
		for i, class := range comparisonClasses[:topClasses] {
			scores = append(scores, model.ClassScore{
				Class:      class,
				Confidence: (m.base - float64(i)*m.step) * 100,
			})
		}
		results = append(results, model.ModelResult{
			Model:           m.name,
			Predictions:     scores,
			InferenceTimeMs: m.inferenceMs,
		})
	}
	return results
}
