package recipient

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a recipient list, choosing the format by file extension
// (.csv, .json, .yaml or .yml).
func LoadFile(path string) ([]Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient list: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return LoadCSV(f)
	case ".json":
		return LoadJSON(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported recipient list format %q", ext)
	}
}

// LoadCSV parses a CSV recipient list. The first row names the fields;
// cells are trimmed and missing trailing cells become "".
func LoadCSV(r io.Reader) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var out []Recipient
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(out)+2, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		rec := make(Recipient, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = strings.TrimSpace(row[i])
			} else {
				rec[name] = ""
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadJSON parses a JSON array of objects. Non-string values are formatted
// as text; null becomes "".
func LoadJSON(r io.Reader) ([]Recipient, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON recipient list: %w", err)
	}
	return fromRows(rows), nil
}

// LoadYAML parses a YAML sequence of mappings.
func LoadYAML(r io.Reader) ([]Recipient, error) {
	var rows []map[string]any
	if err := yaml.NewDecoder(r).Decode(&rows); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse YAML recipient list: %w", err)
	}
	return fromRows(rows), nil
}

func fromRows(rows []map[string]any) []Recipient {
	out := make([]Recipient, 0, len(rows))
	for _, row := range rows {
		rec := make(Recipient, len(row))
		for k, v := range row {
			if v == nil {
				rec[k] = ""
				continue
			}
			rec[k] = fmt.Sprint(v)
		}
		out = append(out, rec)
	}
	return out
}
