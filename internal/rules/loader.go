package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"defgen/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Format is a catalog encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported catalog extension %q", filepath.Ext(path))
	}
}

// CatalogLoadError reports a catalog that could not be loaded. The previous
// snapshot, if any, stays in effect.
type CatalogLoadError struct {
	Source string
	Err    error
}

func (e *CatalogLoadError) Error() string {
	return fmt.Sprintf("catalog load failed (%s): %v", e.Source, e.Err)
}

func (e *CatalogLoadError) Unwrap() error { return e.Err }

// LoadFile reads and decodes a catalog file.
func LoadFile(path string, matchTimeout time.Duration) (*Catalog, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "LoadFile")
	defer timer.Stop()

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &CatalogLoadError{Source: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CatalogLoadError{Source: path, Err: err}
	}
	cat, err := Parse(data, format, matchTimeout)
	if err != nil {
		var loadErr *CatalogLoadError
		if errors.As(err, &loadErr) {
			loadErr.Source = path
		}
		return nil, err
	}
	logging.Catalog("Loaded catalog %s from %s: %d rules", cat.Version(), path, cat.Len())
	return cat, nil
}

// Parse decodes a catalog strictly: unknown fields, categories, severities
// and matcher kinds fail the whole load.
func Parse(data []byte, format Format, matchTimeout time.Duration) (*Catalog, error) {
	doc, err := Decode(data, format)
	if err != nil {
		return nil, &CatalogLoadError{Source: string(format), Err: err}
	}
	cat, err := NewCatalog(doc, matchTimeout)
	if err != nil {
		return nil, &CatalogLoadError{Source: string(format), Err: err}
	}
	return cat, nil
}

// Decode turns raw bytes into a Document without validating it.
func Decode(data []byte, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return Document{}, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Document{}, fmt.Errorf("decode toml: unknown fields %s", strings.Join(keys, ", "))
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return Document{}, fmt.Errorf("unsupported catalog format %q", format)
	}
	return doc, nil
}

// Encode serializes a document in the given format.
func Encode(doc Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
}

// describeValidation flattens validator errors into one readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
}
