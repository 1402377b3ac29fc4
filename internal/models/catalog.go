package models

import (
	"strings"
)

// Feature tags exposed by the remote model catalog.
const (
	FeatureTextToText  = "TEXT_TO_TEXT"
	FeatureTextToImage = "TEXT_TO_IMAGE"
	FeatureImageToText = "IMAGE_TO_TEXT"
)

// Model is a read-mostly mirror of a remote catalog entry. Features are
// stored as a comma-joined list; the catalog is small and read-heavy.
type Model struct {
	ID        string `gorm:"type:varchar(128);primaryKey"`
	Label     string `gorm:"type:varchar(255)"`
	MaxTokens int    `gorm:"default:0"`
	Features  string `gorm:"type:text"`
}

func (Model) TableName() string { return "models" }

// HasFeature reports whether the model carries the given feature tag.
func (m *Model) HasFeature(feature string) bool {
	for _, f := range strings.Split(m.Features, ",") {
		if strings.TrimSpace(f) == feature {
			return true
		}
	}
	return false
}

// IsTextModel reports whether the model can run plain chat.
func (m *Model) IsTextModel() bool { return m.HasFeature(FeatureTextToText) }

// IsImageGenerationModel reports whether the model generates images.
func (m *Model) IsImageGenerationModel() bool { return m.HasFeature(FeatureTextToImage) }

// DisplayName returns the label, falling back to the raw id.
func (m *Model) DisplayName() string {
	if m.Label != "" {
		return m.Label
	}
	return m.ID
}

// SetFeatures stores the feature tag list.
func (m *Model) SetFeatures(features []string) {
	m.Features = strings.Join(features, ",")
}

// FeatureList returns the stored feature tags.
func (m *Model) FeatureList() []string {
	if m.Features == "" {
		return nil
	}
	parts := strings.Split(m.Features, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Plan mirrors a remote pricing plan.
type Plan struct {
	ID       int64   `gorm:"primaryKey;autoIncrement"`
	BothubID string  `gorm:"type:varchar(64);uniqueIndex"`
	Type     string  `gorm:"type:varchar(64)"`
	Price    float64 `gorm:"default:0"`
	Currency string  `gorm:"type:varchar(8)"`
	Tokens   int64   `gorm:"default:0"`
}

func (Plan) TableName() string { return "plans" }

// DisplayName renders the plan type as a human-readable title.
func (p *Plan) DisplayName() string {
	if p.Type == "" {
		return "Plan"
	}
	parts := strings.Split(p.Type, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}
	return strings.Join(parts, " ")
}
