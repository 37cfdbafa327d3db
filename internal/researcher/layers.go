package researcher

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind identifies which source count a layer's results feed.
type Kind string

const (
	KindGeneral    Kind = "general"
	KindGovernment Kind = "government"
	KindIndustry   Kind = "industry"
)

// DefaultEscalateBelow is the extraction confidence (1-10) under which the
// next layer is searched.
const DefaultEscalateBelow = 7

var socialDomains = []string{"facebook.com", "twitter.com", "instagram.com"}

// Layer is one tier of search queries.
type Layer struct {
	Name           string   `yaml:"name"`
	Kind           Kind     `yaml:"kind"`
	Queries        []string `yaml:"queries"` // "{name}" is replaced with the business name
	IncludeDomains []string `yaml:"include_domains,omitempty"`
	ExcludeDomains []string `yaml:"exclude_domains,omitempty"`
	MaxResults     int      `yaml:"max_results,omitempty"`
}

// Render expands the layer's query templates for name.
func (l Layer) Render(name string) []string {
	out := make([]string, 0, len(l.Queries))
	for _, q := range l.Queries {
		q = strings.TrimSpace(strings.ReplaceAll(q, "{name}", name))
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

// LayerConfig is the ordered set of layers plus the escalation threshold.
type LayerConfig struct {
	EscalateBelow float64 `yaml:"escalate_below"`
	Layers        []Layer `yaml:"layers"`
}

// DefaultLayerConfig returns the built-in general, government and industry
// layers.
func DefaultLayerConfig() LayerConfig {
	return LayerConfig{
		EscalateBelow: DefaultEscalateBelow,
		Layers: []Layer{
			{
				Name: "general",
				Kind: KindGeneral,
				Queries: []string{
					"{name} contact information phone email",
					"{name} business address",
					"{name} company website official",
				},
				ExcludeDomains: socialDomains,
				MaxResults:     3,
			},
			{
				Name: "government",
				Kind: KindGovernment,
				Queries: []string{
					"{name} company registration details",
					"{name} registered office address director",
				},
				IncludeDomains: []string{"gov.in", "mca.gov.in", "nic.in", "gov"},
				MaxResults:     3,
			},
			{
				Name: "industry",
				Kind: KindIndustry,
				Queries: []string{
					"{name} importer exporter directory listing",
					"{name} trade association member contact",
				},
				ExcludeDomains: socialDomains,
				MaxResults:     3,
			},
		},
	}
}

// LoadLayerConfig reads layer config from a YAML file with a top-level
// "research" key. Missing fields fall back to the defaults.
func LoadLayerConfig(path string) (*LayerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "researcher: read layers %s", path)
	}

	var wrapper struct {
		Research LayerConfig `yaml:"research"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "researcher: parse layers")
	}

	cfg := wrapper.Research
	def := DefaultLayerConfig()
	if cfg.EscalateBelow <= 0 {
		cfg.EscalateBelow = def.EscalateBelow
	}
	if len(cfg.Layers) == 0 {
		cfg.Layers = def.Layers
	}
	for i, l := range cfg.Layers {
		if l.Kind == "" {
			cfg.Layers[i].Kind = KindGeneral
		}
		if l.Name == "" {
			cfg.Layers[i].Name = string(cfg.Layers[i].Kind)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks layer kinds and that every layer has a query.
func (c LayerConfig) Validate() error {
	for _, l := range c.Layers {
		switch l.Kind {
		case KindGeneral, KindGovernment, KindIndustry:
		default:
			return eris.Errorf("researcher: layer %q has unknown kind %q", l.Name, l.Kind)
		}
		if len(l.Render("x")) == 0 {
			return eris.Errorf("researcher: layer %q has no queries", l.Name)
		}
	}
	return nil
}
