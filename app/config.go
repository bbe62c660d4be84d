// Package app carries the application configuration and the connection
// supervisor that keeps the realtime core alive.
package app

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level haslate.yaml document.
type Config struct {
	System      SystemConfig      `yaml:"system"`
	Application ApplicationConfig `yaml:"application"`
}

// SystemConfig is device provisioning data. The core only parses it;
// applying hostname/wifi/timezone changes is an external concern.
type SystemConfig struct {
	Hostname string     `yaml:"hostname"`
	Wifi     WifiConfig `yaml:"wifi"`
	Timezone string     `yaml:"timezone"`
}

type WifiConfig struct {
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
	ForceWPA2 bool   `yaml:"force_wpa2"`
}

// ApplicationConfig configures the Home Assistant connection and the
// page/grid layout.
type ApplicationConfig struct {
	HomeAssistantURI   string       `yaml:"homeassistant_uri"`
	HomeAssistantToken string       `yaml:"homeassistant_token"`
	Grid               []int        `yaml:"grid"`
	Pages              []PageConfig `yaml:"pages"`
}

type PageConfig struct {
	Name  string       `yaml:"name"`
	Items []ItemConfig `yaml:"items"`
}

// ItemConfig places one widget on the grid. Type selects the model kind;
// Data carries model construction parameters (for entity kinds, the
// "entity" key); Widget carries rendering hints the core passes through.
type ItemConfig struct {
	At     []int          `yaml:"at"`
	Size   []int          `yaml:"size"`
	Type   string         `yaml:"type"`
	Format string         `yaml:"format"`
	Data   map[string]any `yaml:"data"`
	Widget map[string]any `yaml:"widget"`
}

// Entity returns the entity id from the item's data, if any.
func (i *ItemConfig) Entity() string {
	s, _ := i.Data["entity"].(string)
	return s
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(b)
}

// Parse decodes a configuration document, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	for pi := range c.Application.Pages {
		for ii := range c.Application.Pages[pi].Items {
			item := &c.Application.Pages[pi].Items[ii]
			if len(item.Size) == 0 {
				item.Size = []int{1, 1}
			}
			if item.Data == nil {
				item.Data = map[string]any{}
			}
			if item.Widget == nil {
				item.Widget = map[string]any{}
			}
		}
	}
}

// Validate checks the fields the core depends on. Unknown item types are
// allowed here; the model factory rejects them when a model is requested.
func (c *Config) Validate() error {
	a := &c.Application
	if a.HomeAssistantURI == "" {
		return errors.New("config: application/homeassistant_uri is required")
	}
	if a.HomeAssistantToken == "" {
		return errors.New("config: application/homeassistant_token is required")
	}
	if len(a.Grid) != 2 {
		return errors.Errorf("config: application/grid must be a pair, got %d values", len(a.Grid))
	}
	for pi, page := range a.Pages {
		for ii, item := range page.Items {
			if item.Type == "" {
				return errors.Errorf("config: application/pages/%d/items/%d/type is required", pi, ii)
			}
			if len(item.At) != 2 {
				return errors.Errorf("config: application/pages/%d/items/%d/at must be a pair", pi, ii)
			}
			if len(item.Size) != 2 {
				return errors.Errorf("config: application/pages/%d/items/%d/size must be a pair", pi, ii)
			}
		}
	}
	return nil
}
