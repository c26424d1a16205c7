package cliui

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by Encode.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formats lists the --output values commands accept.
func Formats() []string {
	return []string{FormatText, FormatJSON, FormatYAML}
}

// Structured reports whether format is machine readable.
func Structured(format string) bool {
	return format == FormatJSON || format == FormatYAML
}

// Encode writes v as indented JSON or as YAML. YAML keys follow the json
// tags of v.
func Encode(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case FormatYAML:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()

	default:
		return fmt.Errorf("unsupported output format: %q (available: json, yaml)", format)
	}
}
