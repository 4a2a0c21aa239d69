package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pinchtab/mapcheck/internal/suite"
	"gopkg.in/yaml.v3"
)

// Marshal encodes r as YAML when format is "yaml" or "yml", JSON otherwise.
func Marshal(r *suite.Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(r)
	default:
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

// WriteFile saves r to path, choosing the encoding from the extension.
func WriteFile(path string, r *suite.Report) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	b, err := Marshal(r, format)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
