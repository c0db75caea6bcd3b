package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ParseBackends decodes the single-line JSON object that maps model identifiers to
// backend base addresses, e.g. {"llama-3-8b":"http://10.0.0.5:8000"}.
func ParseBackends(raw string) (map[string]string, error) {
	var backends map[string]string
	if err := json.Unmarshal([]byte(raw), &backends); err != nil {
		return nil, fmt.Errorf("parse backends: make sure it is a valid JSON object on a single line: %w", err)
	}
	if backends == nil {
		return nil, fmt.Errorf("parse backends: expected a JSON object, got %q", raw)
	}
	return backends, nil
}

// ValidateBackends checks that every model identifier is non-empty and every address is
// an absolute http(s) URL.
func ValidateBackends(backends map[string]string) error {
	if len(backends) == 0 {
		return fmt.Errorf("no backends configured: set %s or backends in the config file", EnvBackends)
	}
	for model, addr := range backends {
		if model == "" {
			return fmt.Errorf("backend model identifier must not be empty")
		}
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("backend %q: address must not be empty", model)
		}
		u, err := url.Parse(addr)
		if err != nil {
			return fmt.Errorf("backend %q: invalid address %q: %w", model, addr, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend %q: address %q must be an absolute http or https URL", model, addr)
		}
	}
	return nil
}
