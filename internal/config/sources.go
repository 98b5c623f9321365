package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"casewatch/internal/collector"
)

type sourcesFile struct {
	Sources []collector.SourceDefinition `yaml:"sources"`
}

var errNoSources = errors.New("no sources defined")

// LoadSources reads the source definitions file. IDs must be unique; an
// empty or missing file is a startup error since the pipeline would have
// nothing to do.
func LoadSources(path string) ([]collector.SourceDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, errNoSources
	}

	seen := map[string]struct{}{}
	for i := range f.Sources {
		def := &f.Sources[i]
		def.ID = strings.TrimSpace(def.ID)
		if def.ID == "" {
			return nil, fmt.Errorf("source %d: empty id", i)
		}
		if _, ok := seen[def.ID]; ok {
			return nil, fmt.Errorf("duplicate source id: %s", def.ID)
		}
		seen[def.ID] = struct{}{}
		if def.Name == "" {
			def.Name = def.ID
		}
	}
	return f.Sources, nil
}
