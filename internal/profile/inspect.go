package profile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidProfile is returned for files that are not usable Clash configurations.
var ErrInvalidProfile = errors.New("profile: invalid clash configuration")

// Summary describes the parts of a configuration shown before import.
type Summary struct {
	Mode        string   `json:"mode,omitempty"`
	MixedPort   int      `json:"mixed_port,omitempty"`
	Proxies     int      `json:"proxies"`
	ProxyGroups []string `json:"proxy_groups"`
	Providers   int      `json:"providers"`
}

type document struct {
	Mode      string           `yaml:"mode"`
	MixedPort int              `yaml:"mixed-port"`
	Proxies   []map[string]any `yaml:"proxies"`
	Groups    []struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"proxy-groups"`
	Providers map[string]any `yaml:"proxy-providers"`
}

// Inspect parses data as a Clash configuration.
// A configuration needs at least one proxy, proxy group or provider to be useful.
func Inspect(data []byte) (*Summary, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	summary := &Summary{
		Mode:        doc.Mode,
		MixedPort:   doc.MixedPort,
		Proxies:     len(doc.Proxies),
		ProxyGroups: make([]string, 0, len(doc.Groups)),
		Providers:   len(doc.Providers),
	}
	for i, g := range doc.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("%w: proxy-groups[%d] has no name", ErrInvalidProfile, i)
		}
		summary.ProxyGroups = append(summary.ProxyGroups, g.Name)
	}
	if summary.Proxies == 0 && len(summary.ProxyGroups) == 0 && summary.Providers == 0 {
		return nil, fmt.Errorf("%w: no proxies, proxy-groups or proxy-providers", ErrInvalidProfile)
	}
	return summary, nil
}

// InspectFile reads and inspects a configuration file.
func InspectFile(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Inspect(data)
}
