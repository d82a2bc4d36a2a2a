package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roomies/roomies-hub/internal/domain/analytics"
)

// categoryFile is the on-disk layout of the category keyword table.
//
//	categories:
//	  - category: Kitchen
//	    keywords: [dish, cook]
type categoryFile struct {
	Categories []analytics.CategoryRule `yaml:"categories"`
}

// LoadCategoryRules reads the category keyword table from a YAML file.
// An empty path returns nil, which selects the built-in table.
func LoadCategoryRules(path string) ([]analytics.CategoryRule, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category rules: %w", err)
	}
	return ParseCategoryRules(data)
}

// ParseCategoryRules decodes a YAML category table. Unknown fields are
// rejected so that typos do not silently drop rules.
func ParseCategoryRules(data []byte) ([]analytics.CategoryRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f categoryFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse category rules: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("category rules: no categories defined")
	}
	for i, r := range f.Categories {
		if r.Category == "" {
			return nil, fmt.Errorf("category rules: entry %d has no category", i)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("category rules: %q has no keywords", r.Category)
		}
	}
	return f.Categories, nil
}
