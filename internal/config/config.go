// Package config loads the map and UI configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the contents of config.yaml.
type Config struct {
	Map        Map         `yaml:"map"`
	BaseLayers []BaseLayer `yaml:"base_layers"`
	Styles     Styles      `yaml:"styles"`
}

// Map holds the initial view and viewport fitting parameters.
type Map struct {
	Center  [2]float64 `yaml:"center"` // lat, lon
	Zoom    int        `yaml:"zoom"`
	MinZoom int        `yaml:"min_zoom"`
	MaxZoom int        `yaml:"max_zoom"`

	// FitPadding is the margin in pixels kept around fitted bounds.
	FitPadding int `yaml:"fit_padding"`

	// Width and Height are the assumed viewport size used to compute the
	// zoom level of a fit when the browser has not reported its size.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BaseLayer is a raster tile source the map can show underneath buildings.
type BaseLayer struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"url"`
	Attribution string `yaml:"attribution" json:"attribution"`
	Subdomains  string `yaml:"subdomains,omitempty" json:"subdomains,omitempty"`
}

// Style is the look of a rendered building shape.
type Style struct {
	Color       string  `yaml:"color" json:"color"`
	FillColor   string  `yaml:"fill_color" json:"fillColor"`
	FillOpacity float64 `yaml:"fill_opacity" json:"fillOpacity"`
	Weight      int     `yaml:"weight" json:"weight"`
}

// Styles are the two building styles, by selection state.
type Styles struct {
	Selected   Style `yaml:"selected"`
	Unselected Style `yaml:"unselected"`
}

// Default returns the built-in configuration for Berlin.
func Default() Config {
	return Config{
		Map: Map{
			Center:     [2]float64{52.52, 13.405},
			Zoom:       12,
			MinZoom:    10,
			MaxZoom:    18,
			FitPadding: 50,
			Width:      1024,
			Height:     768,
		},
		BaseLayers: []BaseLayer{
			{
				Key:         "street",
				Name:        "Street",
				URL:         "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
				Attribution: `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors &copy; <a href="https://carto.com/attributions">CARTO</a>`,
				Subdomains:  "abcd",
			},
			{
				Key:         "satellite",
				Name:        "Satellite",
				URL:         "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
				Attribution: "Tiles &copy; Esri",
			},
		},
		Styles: Styles{
			Selected:   Style{Color: "#eab308", FillColor: "#fcd34d", FillOpacity: 0.7, Weight: 2},
			Unselected: Style{Color: "#dc2626", FillColor: "#ef4444", FillOpacity: 0.7, Weight: 2},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the map session relies on.
func (c Config) Validate() error {
	if len(c.BaseLayers) == 0 {
		return errors.New("at least one base layer is required")
	}
	seen := make(map[string]bool, len(c.BaseLayers))
	for _, l := range c.BaseLayers {
		if l.Key == "" || l.URL == "" {
			return fmt.Errorf("base layer %q needs a key and a url", l.Name)
		}
		if seen[l.Key] {
			return fmt.Errorf("duplicate base layer key %q", l.Key)
		}
		seen[l.Key] = true
	}
	if c.Map.MinZoom > c.Map.MaxZoom {
		return fmt.Errorf("min_zoom %d > max_zoom %d", c.Map.MinZoom, c.Map.MaxZoom)
	}
	return nil
}

// LoadEnv reads a .env file into the process environment if one exists.
// Variables already set take precedence.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}
