package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist is the declared route surface of a deployment, one entrypoint
// per binary. Listing a route pins its class explicitly; unlisted paths
// still classify through the fallback rules, so this file is about making
// the error-rendering mode of known routes deliberate, not about blocking.
type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

// Route binds a path (exact, or a template with {param} segments) to a
// route class. Methods are documentation for the file's reader; dispatch
// enforces them in the Router.
type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, fmt.Errorf("allowlist: %w", err)
	}
	if a.Version != 1 {
		return Allowlist{}, fmt.Errorf("allowlist: version %d not supported", a.Version)
	}
	if len(a.Entrypoints) == 0 {
		return Allowlist{}, fmt.Errorf("allowlist: no entrypoints declared")
	}
	return a, nil
}

func LoadAllowlist(path string) (Allowlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}
