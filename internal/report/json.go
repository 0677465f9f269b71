package report

import (
	"encoding/json"
	"io"
)

// JSONGenerator renders a Report as JSON.
type JSONGenerator struct {
	Indent bool
}

// Generate implements Generator.
func (g *JSONGenerator) Generate(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if g.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(report)
}

// Extension implements Generator.
func (g *JSONGenerator) Extension() string {
	return "json"
}
