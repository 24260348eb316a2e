package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringMap decodes from a YAML/TOML mapping, a JSON object string, or a
// comma separated "k=v" list. The string forms make it settable from a
// single environment variable.
type StringMap map[string]string

// UnmarshalYAML implements yaml.Unmarshaler
func (m *StringMap) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := parseStringMap(node.Value)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case yaml.MappingNode:
		raw := map[string]any{}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*m = stringify(raw)
		return nil
	default:
		return fmt.Errorf("string map: unsupported yaml node kind %d", node.Kind)
	}
}

// UnmarshalTOML implements toml.Unmarshaler
func (m *StringMap) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		parsed, err := parseStringMap(val)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case map[string]any:
		*m = stringify(val)
		return nil
	default:
		return fmt.Errorf("string map: unsupported toml value %T", v)
	}
}

func parseStringMap(s string) (StringMap, error) {
	s = strings.TrimSpace(s)
	out := StringMap{}
	if s == "" {
		return out, nil
	}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), (*map[string]string)(&out)); err != nil {
			return nil, fmt.Errorf("string map: %w", err)
		}
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("string map: invalid pair %q", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func stringify(raw map[string]any) StringMap {
	out := make(StringMap, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}
