package plans

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk layout of a plan seed file
type SeedFile struct {
	Version string  `yaml:"version"`
	Plans   []*Plan `yaml:"plans"`
}

// LoadFile reads and validates a YAML plan seed file
func LoadFile(path string) ([]*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan seed document
func Parse(data []byte) ([]*Plan, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	seen := make(map[string]bool, len(file.Plans))
	for _, p := range file.Plans {
		if p.Visibility == "" {
			p.Visibility = VisibilityPublic
		}
		if p.LoyaltyMultiplier == 0 {
			p.LoyaltyMultiplier = 1
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate plan id %s", ErrInvalidPlan, p.ID)
		}
		seen[p.ID] = true
	}

	return file.Plans, nil
}

// Saver persists plans. Store implements it, as do guarded admin services.
type Saver interface {
	SavePlan(ctx context.Context, plan *Plan) error
}

// Seed saves every plan through saver.
// Plans present in the store but absent from the seed are left untouched.
func Seed(ctx context.Context, saver Saver, seeded []*Plan) error {
	for _, p := range seeded {
		if err := saver.SavePlan(ctx, p); err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.ID, err)
		}
	}
	return nil
}
