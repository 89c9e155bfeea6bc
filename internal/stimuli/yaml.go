package stimuli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseCatalogYAML decodes, normalizes, and validates a catalog payload.
func ParseCatalogYAML(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("catalog: payload is empty")
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	cat = cat.Normalized()
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Catalog{}, fmt.Errorf("catalog: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := ParseCatalogYAML(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: %s: %w", filepath.Clean(path), err)
	}
	return cat, nil
}

// Load returns the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		cat := Default()
		if err := cat.Validate(); err != nil {
			return Catalog{}, err
		}
		return cat, nil
	}
	return LoadFile(path)
}

// EncodeYAML encodes the catalog in the same shape ParseCatalogYAML accepts.
func (c Catalog) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Normalized trims free-text fields and canonicalizes block spellings.
func (c Catalog) Normalized() Catalog {
	out := Catalog{Pairs: make([]BasePair, len(c.Pairs))}
	for i, bp := range c.Pairs {
		bp.Base = strings.TrimSpace(bp.Base)
		if block, err := ParseBlock(string(bp.Block)); err == nil && block != "" {
			bp.Block = block
		}
		bp.Distance = Distance(strings.TrimSpace(string(bp.Distance)))
		bp.Larger = bp.Larger.trimmed()
		bp.Smaller = bp.Smaller.trimmed()
		if len(bp.Relations) > 0 {
			rels := make(map[string]RelationMeta, len(bp.Relations))
			for label, meta := range bp.Relations {
				rels[strings.Join(strings.Fields(label), " ")] = meta
			}
			bp.Relations = rels
		}
		out.Pairs[i] = bp
	}
	return out
}

func (v Value) trimmed() Value {
	v.Fraction = strings.TrimSpace(v.Fraction)
	v.Decimal = strings.TrimSpace(v.Decimal)
	v.Percentage = strings.TrimSpace(v.Percentage)
	return v
}
