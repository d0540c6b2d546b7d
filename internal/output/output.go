// Package output renders scan reports for the terminal or for files.
// Supported formats are a human-readable table, JSON, YAML and XML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/portsweep/internal/scanning"
)

const outputFilePerm = 0644

// Format is an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXML  Format = "xml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatText, FormatJSON, FormatYAML, FormatXML}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatXML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or xml)", name)
	}
}

// FormatFromPath guesses a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatXML
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// Options tune the text renderer.
type Options struct {
	// ShowCounts adds a table of outcome counts.
	ShowCounts bool
}

// Write renders report to w in format f.
func Write(w io.Writer, report *scanning.Report, f Format, opts Options) error {
	if report == nil {
		return fmt.Errorf("cannot render nil report")
	}

	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case FormatXML:
		return writeXML(w, report)
	case FormatText, "":
		return writeText(w, report, opts)
	default:
		return fmt.Errorf("unknown output format %q", f)
	}
}

// Save writes report to path, choosing the format from its extension.
func Save(report *scanning.Report, path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFilePerm)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := Write(file, report, FormatFromPath(path), Options{ShowCounts: true}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
