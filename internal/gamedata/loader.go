// Package gamedata loads the static world: characters, achievements, items and locations.
package gamedata

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v2"

	"github.com/Corphon/TomatoTown/internal/models"
)

//go:embed world.yaml
var defaultWorld []byte

// World is the immutable world definition. Lookups are by id.
type World struct {
	StartLocation string

	characters   map[string]*models.CharacterProfile
	achievements []*models.Achievement
	items        map[string]*models.Item
	locations    map[string]*models.Location

	characterOrder []string
	itemOrder      []string
	locationOrder  []string
}

type worldFile struct {
	StartLocation string                     `yaml:"start_location"`
	Characters    []*models.CharacterProfile `yaml:"characters"`
	Achievements  []*models.Achievement      `yaml:"achievements"`
	Items         []*models.Item             `yaml:"items"`
	Locations     []*models.Location         `yaml:"locations"`
}

// Load reads a world file; an empty path means the embedded default world.
func Load(path string) (*World, error) {
	if path == "" {
		return Parse(defaultWorld)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, `filepath: `+path)
	}

	w, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, `filepath: `+path)
	}
	return w, nil
}

// Default returns the embedded world. It panics if the embedded data is invalid.
func Default() *World {
	w, err := Parse(defaultWorld)
	if err != nil {
		panic(err)
	}
	return w
}

// Parse decodes and validates YAML world data.
func Parse(data []byte) (*World, error) {
	var file worldFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "decode world yaml")
	}

	w := &World{
		StartLocation: file.StartLocation,
		characters:    make(map[string]*models.CharacterProfile, len(file.Characters)),
		items:         make(map[string]*models.Item, len(file.Items)),
		locations:     make(map[string]*models.Location, len(file.Locations)),
	}

	for _, loc := range file.Locations {
		if loc.ID == "" {
			return nil, errors.New("location without id")
		}
		if _, dup := w.locations[loc.ID]; dup {
			return nil, errors.Errorf("duplicate location %q", loc.ID)
		}
		if loc.Name == "" {
			loc.Name = DisplayName(loc.ID)
		}
		loc.Characters = nil
		loc.Items = nil
		w.locations[loc.ID] = loc
		w.locationOrder = append(w.locationOrder, loc.ID)
	}

	for _, c := range file.Characters {
		if c.ID == "" {
			return nil, errors.New("character without id")
		}
		if _, dup := w.characters[c.ID]; dup {
			return nil, errors.Errorf("duplicate character %q", c.ID)
		}
		if c.Name == "" {
			c.Name = DisplayName(c.ID)
		}
		c.Prompt = strings.TrimSpace(c.Prompt)
		if c.Location != "" {
			loc, ok := w.locations[c.Location]
			if !ok {
				return nil, errors.Errorf("character %q placed in unknown location %q", c.ID, c.Location)
			}
			loc.Characters = append(loc.Characters, c.ID)
		}
		w.characters[c.ID] = c
		w.characterOrder = append(w.characterOrder, c.ID)
	}

	for _, it := range file.Items {
		if it.ID == "" {
			return nil, errors.New("item without id")
		}
		if _, dup := w.items[it.ID]; dup {
			return nil, errors.Errorf("duplicate item %q", it.ID)
		}
		if it.Name == "" {
			it.Name = DisplayName(it.ID)
		}
		loc, ok := w.locations[it.Location]
		if !ok {
			return nil, errors.Errorf("item %q placed in unknown location %q", it.ID, it.Location)
		}
		loc.Items = append(loc.Items, it.ID)
		w.items[it.ID] = it
		w.itemOrder = append(w.itemOrder, it.ID)
	}

	seen := make(map[string]bool, len(file.Achievements))
	for _, a := range file.Achievements {
		if a.ID == "" {
			return nil, errors.New("achievement without id")
		}
		if seen[a.ID] {
			return nil, errors.Errorf("duplicate achievement %q", a.ID)
		}
		seen[a.ID] = true
		if _, ok := w.characters[a.CharacterID]; !ok {
			return nil, errors.Errorf("achievement %q bound to unknown character %q", a.ID, a.CharacterID)
		}
		if len(a.TriggerKeywords) == 0 {
			return nil, errors.Errorf("achievement %q has no trigger keywords", a.ID)
		}
		if a.Title == "" {
			a.Title = DisplayName(a.ID)
		}
		w.achievements = append(w.achievements, a)
	}

	for _, loc := range w.locations {
		for _, next := range loc.Connections {
			if _, ok := w.locations[next]; !ok {
				return nil, errors.Errorf("location %q connects to unknown location %q", loc.ID, next)
			}
		}
	}

	if w.StartLocation == "" && len(w.locationOrder) > 0 {
		w.StartLocation = w.locationOrder[0]
	}
	if len(w.locationOrder) > 0 {
		if _, ok := w.locations[w.StartLocation]; !ok {
			return nil, errors.Errorf("unknown start location %q", w.StartLocation)
		}
	}

	return w, nil
}

// DisplayName title-cases an identifier: "albino_tomato" -> "Albino Tomato".
func DisplayName(id string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(id, "_", " "))
}

// Character resolves a character profile.
func (w *World) Character(id string) (*models.CharacterProfile, bool) {
	c, ok := w.characters[id]
	return c, ok
}

// Characters returns profiles in file order.
func (w *World) Characters() []*models.CharacterProfile {
	out := make([]*models.CharacterProfile, 0, len(w.characterOrder))
	for _, id := range w.characterOrder {
		out = append(out, w.characters[id])
	}
	return out
}

// Achievements returns copies of the achievement definitions.
func (w *World) Achievements() []models.Achievement {
	out := make([]models.Achievement, 0, len(w.achievements))
	for _, a := range w.achievements {
		cp := *a
		cp.TriggerKeywords = append([]string(nil), a.TriggerKeywords...)
		out = append(out, cp)
	}
	return out
}

func (w *World) Item(id string) (*models.Item, bool) {
	it, ok := w.items[id]
	return it, ok
}

func (w *World) Items() []*models.Item {
	out := make([]*models.Item, 0, len(w.itemOrder))
	for _, id := range w.itemOrder {
		out = append(out, w.items[id])
	}
	return out
}

func (w *World) Location(id string) (*models.Location, bool) {
	loc, ok := w.locations[id]
	return loc, ok
}

func (w *World) Locations() []*models.Location {
	out := make([]*models.Location, 0, len(w.locationOrder))
	for _, id := range w.locationOrder {
		out = append(out, w.locations[id])
	}
	return out
}

// Connected reports whether to is reachable in one step from from.
func (w *World) Connected(from, to string) bool {
	loc, ok := w.locations[from]
	if !ok {
		return false
	}
	for _, next := range loc.Connections {
		if next == to {
			return true
		}
	}
	return false
}

// CharacterIDs returns sorted character ids.
func (w *World) CharacterIDs() []string {
	ids := append([]string(nil), w.characterOrder...)
	sort.Strings(ids)
	return ids
}
