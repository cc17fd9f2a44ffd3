// Package plant は薬用植物カタログと画像識別（シミュレーション）を提供する。
package plant

import (
	"strings"

	"github.com/hitoshi/ayurleaf/internal/model"
)

// catalog は識別対象の薬用植物6種。
var catalog = []model.PlantInfo{
	{
		Name:        "Tulsi (Holy Basil)",
		Properties:  []string{"Anti-inflammatory", "Adaptogenic", "Immunomodulator"},
		Description: "A sacred plant in Ayurveda known for its healing properties in respiratory ailments and stress relief.",
	},
	{
		Name:        "Neem",
		Properties:  []string{"Antibacterial", "Antifungal", "Blood purifier"},
		Description: "A powerful medicinal plant used for skin conditions, dental care, and as a natural pesticide.",
	},
	{
		Name:        "Aloe Vera",
		Properties:  []string{"Wound healing", "Anti-inflammatory", "Moisturizing"},
		Description: "Known for its healing properties in skin care, burns, and digestive health.",
	},
	{
		Name:        "Turmeric",
		Properties:  []string{"Anti-inflammatory", "Antioxidant", "Joint health"},
		Description: "A powerful medicinal root with anti-inflammatory and antioxidant properties.",
	},
	{
		Name:        "Mint",
		Properties:  []string{"Digestive aid", "Cooling effect", "Antimicrobial"},
		Description: "Used for digestive issues, respiratory health, and as a natural cooling agent.",
	},
	{
		Name:        "Moringa",
		Properties:  []string{"Nutrient-rich", "Anti-inflammatory", "Antioxidant"},
		Description: "Known as a miracle tree, rich in nutrients and used for various health benefits.",
	},
}

// Catalog はカタログのコピーを返す。
func Catalog() []model.PlantInfo {
	out := make([]model.PlantInfo, len(catalog))
	for i, p := range catalog {
		out[i] = model.PlantInfo{
			Name:        p.Name,
			Properties:  append([]string(nil), p.Properties...),
			Description: p.Description,
		}
	}
	return out
}

// Lookup は名前でカタログを検索する。大文字小文字は区別しない。
func Lookup(name string) (model.PlantInfo, bool) {
	for _, p := range Catalog() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return model.PlantInfo{}, false
}
