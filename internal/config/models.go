package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelInfo is one selectable model in the client's model picker.
type ModelInfo struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// ModelCatalog mirrors models.json. YAML is a superset of JSON, so the same
// decoder reads either format.
type ModelCatalog struct {
	Models  []ModelInfo `json:"models" yaml:"models"`
	Default string      `json:"default,omitempty" yaml:"default"`
}

// LoadModelCatalog reads the catalog once. A missing file is returned as an
// error wrapping fs.ErrNotExist so callers can report it as not found.
func LoadModelCatalog(path string) (*ModelCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var cat ModelCatalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for i := range cat.Models {
		cat.Models[i].ID = strings.TrimSpace(cat.Models[i].ID)
		if cat.Models[i].Name == "" {
			cat.Models[i].Name = cat.Models[i].ID
		}
	}
	if cat.Models == nil {
		cat.Models = []ModelInfo{}
	}
	return &cat, nil
}

// ResolveDefaultModel picks the model used when a chat frame omits one:
// the explicit setting, then the catalog default, then the first catalog
// entry, then FallbackModel.
func ResolveDefaultModel(explicit string, cat *ModelCatalog) string {
	if m := strings.TrimSpace(explicit); m != "" {
		return m
	}
	if cat != nil {
		if m := strings.TrimSpace(cat.Default); m != "" {
			return m
		}
		for _, m := range cat.Models {
			if m.ID != "" {
				return m.ID
			}
		}
	}
	return FallbackModel
}
