// Package library loads unit datasheets and weapon profiles from YAML files
// and serves them to the rules engine.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Weapon is a full weapon profile as written on a datasheet.
type Weapon struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Ranged   bool     `yaml:"ranged"`
	Range    float64  `yaml:"range"`
	Attacks  string   `yaml:"attacks"`
	Skill    int      `yaml:"skill"`
	Strength int      `yaml:"strength"`
	AP       int      `yaml:"ap"`
	Damage   string   `yaml:"damage"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// ModelGroup describes identical models within a datasheet.
type ModelGroup struct {
	Count  int     `yaml:"count"`
	Wounds int     `yaml:"wounds"`
	BaseMM float64 `yaml:"base_mm"`
	Base   string  `yaml:"base,omitempty"`
}

// Datasheet is one unit entry: statline, abilities, and weapon loadout.
type Datasheet struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Keywords  []string     `yaml:"keywords,omitempty"`
	Abilities []string     `yaml:"abilities,omitempty"`
	Move      float64      `yaml:"move"`
	Toughness int          `yaml:"toughness"`
	Save      int          `yaml:"save"`
	Invuln    int          `yaml:"invuln,omitempty"`
	Models    []ModelGroup `yaml:"models"`
	Weapons   []string     `yaml:"weapons"`
}

// file is the on-disk document shape: one YAML file may carry any mix of
// datasheets and weapons.
type file struct {
	Datasheets []Datasheet `yaml:"datasheets,omitempty"`
	Weapons    []Weapon    `yaml:"weapons,omitempty"`
}

// Library is an immutable-after-load index of datasheets and weapons.
type Library struct {
	logger *zap.Logger

	mu         sync.RWMutex
	datasheets map[string]Datasheet
	weapons    map[string]Weapon
}

// New returns an empty library.
func New(logger *zap.Logger) *Library {
	return &Library{
		logger:     logger,
		datasheets: make(map[string]Datasheet),
		weapons:    make(map[string]Weapon),
	}
}

// LoadDir loads every .yaml/.yml file under dir, non-recursively.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading library dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := l.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile parses one YAML document into the library.
func (l *Library) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := l.LoadBytes(raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if l.logger != nil {
		l.logger.Debug("library file loaded", zap.String("path", path))
	}
	return nil
}

// LoadBytes parses one YAML document from memory. Duplicate IDs are errors.
func (l *Library) LoadBytes(raw []byte) error {
	var doc file
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ds := range doc.Datasheets {
		if ds.ID == "" {
			return fmt.Errorf("datasheet %q has no id", ds.Name)
		}
		if _, dup := l.datasheets[ds.ID]; dup {
			return fmt.Errorf("duplicate datasheet id %s", ds.ID)
		}
		if err := validateDatasheet(ds); err != nil {
			return err
		}
		l.datasheets[ds.ID] = ds
	}
	for _, w := range doc.Weapons {
		if w.ID == "" {
			return fmt.Errorf("weapon %q has no id", w.Name)
		}
		if _, dup := l.weapons[w.ID]; dup {
			return fmt.Errorf("duplicate weapon id %s", w.ID)
		}
		if err := validateWeapon(w); err != nil {
			return err
		}
		l.weapons[w.ID] = w
	}
	return nil
}

func validateDatasheet(ds Datasheet) error {
	if ds.Toughness < 1 {
		return fmt.Errorf("datasheet %s: toughness must be at least 1", ds.ID)
	}
	if ds.Save < 2 || ds.Save > 7 {
		return fmt.Errorf("datasheet %s: save must be in [2,7]", ds.ID)
	}
	if ds.Invuln != 0 && (ds.Invuln < 2 || ds.Invuln > 6) {
		return fmt.Errorf("datasheet %s: invuln must be in [2,6]", ds.ID)
	}
	if len(ds.Models) == 0 {
		return fmt.Errorf("datasheet %s: no model groups", ds.ID)
	}
	return nil
}

func validateWeapon(w Weapon) error {
	if w.Skill < 2 || w.Skill > 6 {
		return fmt.Errorf("weapon %s: skill must be in [2,6]", w.ID)
	}
	if w.Strength < 1 {
		return fmt.Errorf("weapon %s: strength must be at least 1", w.ID)
	}
	if w.Attacks == "" || w.Damage == "" {
		return fmt.Errorf("weapon %s: attacks and damage are required", w.ID)
	}
	if w.Ranged && w.Range <= 0 {
		return fmt.Errorf("weapon %s: ranged weapon needs a range", w.ID)
	}
	return nil
}

// Weapon resolves a weapon ID.
func (l *Library) Weapon(id string) (Weapon, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.weapons[id]
	if !ok {
		return Weapon{}, fmt.Errorf("unknown weapon %s", id)
	}
	return w, nil
}

// Datasheet resolves a datasheet ID.
func (l *Library) Datasheet(id string) (Datasheet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, ok := l.datasheets[id]
	if !ok {
		return Datasheet{}, fmt.Errorf("unknown datasheet %s", id)
	}
	return ds, nil
}

// DatasheetIDs lists every loaded datasheet, sorted.
func (l *Library) DatasheetIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.datasheets))
	for id := range l.datasheets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
