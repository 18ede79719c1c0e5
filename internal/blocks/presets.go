// Package blocks holds the suggested focus blocks and the rules for
// turning a suggestion, or a quick custom block, into stored records.
package blocks

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

//go:embed presets.yaml
var defaultPresets []byte

// ErrPresetNotFound is returned when no preset has the requested ID.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a suggested focus block.
type Preset struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	StartTime   string `yaml:"start_time" json:"start_time"`
	EndTime     string `yaml:"end_time" json:"end_time"`
	Image       string `yaml:"image" json:"image,omitempty"`
}

func (p Preset) newBlock() *models.NewBlock {
	return &models.NewBlock{
		Title:       p.Title,
		Description: p.Description,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
	}
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// ParsePresets decodes and validates a presets document.
func ParsePresets(data []byte) ([]Preset, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	seen := make(map[string]bool, len(f.Presets))
	for i, p := range f.Presets {
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("preset %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
		// Adopted presets are stored as blocks.
		if err := validation.ValidateBlock(p.newBlock()); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.ID, err)
		}
	}
	if f.Presets == nil {
		f.Presets = []Preset{}
	}
	return f.Presets, nil
}

// Catalog is the current set of presets. It is safe for concurrent use and
// may be replaced wholesale by Watch.
type Catalog struct {
	mu      sync.RWMutex
	presets []Preset
}

// DefaultCatalog returns the built-in presets.
func DefaultCatalog() *Catalog {
	presets, err := ParsePresets(defaultPresets)
	if err != nil {
		panic("blocks: embedded presets are invalid: " + err.Error())
	}
	return &Catalog{presets: presets}
}

// LoadCatalog reads presets from path.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the catalog with the presets in path. On error the
// current presets are kept.
func (c *Catalog) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read presets file: %w", err)
	}
	presets, err := ParsePresets(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.presets = presets
	c.mu.Unlock()
	return nil
}

// List returns the presets in file order.
func (c *Catalog) List() []Preset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.presets)
}

// Get returns the preset with the given ID.
func (c *Catalog) Get(id string) (Preset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.presets {
		if p.ID == id {
			return p, nil
		}
	}
	return Preset{}, ErrPresetNotFound
}
