package cmds

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/plotview/pkg/plot"
)

// LoadBundles reads a plot file. The file holds either one bundle or a list of
// bundles, as JSON or, for .yaml and .yml files, YAML.
func LoadBundles(path string) ([]plot.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	bundles, err := DecodeBundles(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return bundles, nil
}

func DecodeBundles(data []byte, isYAML bool) ([]plot.Bundle, error) {
	if isYAML {
		return decodeYAML(data)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []plot.Bundle
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var b plot.Bundle
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return nil, err
	}
	return []plot.Bundle{b}, nil
}

func decodeYAML(data []byte) ([]plot.Bundle, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var out []plot.Bundle
		if err := root.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var b plot.Bundle
	if err := root.Decode(&b); err != nil {
		return nil, err
	}
	return []plot.Bundle{b}, nil
}

// stackBundles validates and buffers every bundle as a static entry.
func stackBundles(stack func(plot.Payload, plot.Layout) error, bundles []plot.Bundle) error {
	if len(bundles) == 0 {
		return errors.New("no plots in file")
	}
	for i, b := range bundles {
		if err := stack(plot.Static(b.Data), b.Layout); err != nil {
			return errors.Wrapf(err, "bundle %d", i)
		}
	}
	return nil
}
