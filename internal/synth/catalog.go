package synth

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Voice is one entry of the voice catalog. ProviderVoice is the id sent to
// the primary backend and LocalVoice the id used by the local fallback.
type Voice struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Gender        string   `yaml:"gender" json:"gender"`
	Personalities []string `yaml:"personalities" json:"personalities"`
	ProviderVoice string   `yaml:"provider_voice" json:"provider_voice"`
	LocalVoice    string   `yaml:"local_voice" json:"local_voice,omitempty"`
}

func (v Voice) HasPersonality(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return slices.ContainsFunc(v.Personalities, func(p string) bool {
		return strings.ToLower(p) == tag
	})
}

// Preference narrows voice allocation. Empty fields match anything.
type Preference struct {
	Gender      string
	Personality string
}

type Catalog struct {
	voices []Voice
	byID   map[string]int
}

type catalogFile struct {
	Voices []Voice `yaml:"voices"`
}

func NewCatalog(voices []Voice) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(voices))}
	for _, v := range voices {
		v.ID = strings.TrimSpace(v.ID)
		if v.ID == "" {
			return nil, fmt.Errorf("voice catalog: entry %q has no id", v.Name)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("voice catalog: duplicate id %q", v.ID)
		}
		v.Gender = strings.ToLower(strings.TrimSpace(v.Gender))
		if v.ProviderVoice == "" {
			v.ProviderVoice = v.ID
		}
		c.byID[v.ID] = len(c.voices)
		c.voices = append(c.voices, v)
	}
	if len(c.voices) == 0 {
		return nil, fmt.Errorf("voice catalog is empty")
	}
	return c, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse voice catalog: %w", err)
	}
	return NewCatalog(f.Voices)
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog maps the OpenAI speech voices onto personas.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Voice{
		{ID: "nova", Name: "Nova", Gender: "female", Personalities: []string{"friendly", "collaborative"}, ProviderVoice: "nova", LocalVoice: "en-us+f3"},
		{ID: "onyx", Name: "Onyx", Gender: "male", Personalities: []string{"assertive", "adversarial"}, ProviderVoice: "onyx", LocalVoice: "en-us+m3"},
		{ID: "shimmer", Name: "Shimmer", Gender: "female", Personalities: []string{"calm", "balanced"}, ProviderVoice: "shimmer", LocalVoice: "en-us+f2"},
		{ID: "echo", Name: "Echo", Gender: "male", Personalities: []string{"calm", "balanced"}, ProviderVoice: "echo", LocalVoice: "en-us+m2"},
		{ID: "fable", Name: "Fable", Gender: "neutral", Personalities: []string{"narrator", "friendly"}, ProviderVoice: "fable", LocalVoice: "en-gb"},
		{ID: "alloy", Name: "Alloy", Gender: "neutral", Personalities: []string{"neutral", "skeptical"}, ProviderVoice: "alloy", LocalVoice: "en-us"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Voices() []Voice { return slices.Clone(c.voices) }

func (c *Catalog) Lookup(id string) (Voice, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Voice{}, false
	}
	return c.voices[i], true
}

// Match returns catalog voices satisfying p, in catalog order.
func (c *Catalog) Match(p Preference) []Voice {
	gender := strings.ToLower(strings.TrimSpace(p.Gender))
	var out []Voice
	for _, v := range c.voices {
		if gender != "" && v.Gender != gender {
			continue
		}
		if p.Personality != "" && !v.HasPersonality(p.Personality) {
			continue
		}
		out = append(out, v)
	}
	return out
}
