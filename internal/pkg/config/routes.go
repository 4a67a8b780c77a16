package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gethiox/midiroute/internal/pkg/route"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type routeFile struct {
	Routes []route.Route `yaml:"routes" toml:"routes"`
}

// LoadRoutes reads a YAML (.yaml, .yml) or TOML (.toml) route file.
func LoadRoutes(path string) ([]route.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseRoutesYAML(data)
	case ".toml":
		return ParseRoutesTOML(data)
	default:
		return nil, fmt.Errorf("unsupported route file extension %q", ext)
	}
}

func ParseRoutesYAML(data []byte) ([]route.Route, error) {
	var f routeFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(&f)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", route.ErrInvalidRoute, err)
	}
	return validate(f.Routes)
}

func ParseRoutesTOML(data []byte) ([]route.Route, error) {
	var f routeFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", route.ErrInvalidRoute, err)
	}
	return validate(f.Routes)
}

func validate(routes []route.Route) ([]route.Route, error) {
	for i, r := range routes {
		err := r.Validate()
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
	}
	return routes, nil
}
