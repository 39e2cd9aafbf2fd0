package escalation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocab.yaml
var defaultVocabYAML []byte

type vocabFile struct {
	Phrases []string `yaml:"phrases"`
}

// DefaultVocab returns the built-in explicit-request phrase list.
func DefaultVocab() []string {
	phrases, err := parseVocab(defaultVocabYAML)
	if err != nil {
		// The embedded file is part of the build; a parse failure here is
		// a programming error.
		panic(fmt.Sprintf("embedded vocab.yaml: %v", err))
	}
	return phrases
}

// LoadVocab reads an explicit-request phrase list from a YAML file.
// An empty path returns the built-in default.
func LoadVocab(path string) ([]string, error) {
	if path == "" {
		return DefaultVocab(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab file %s: %w", path, err)
	}
	phrases, err := parseVocab(data)
	if err != nil {
		return nil, fmt.Errorf("parse vocab file %s: %w", path, err)
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("vocab file %s contains no phrases", path)
	}
	return phrases, nil
}

func parseVocab(data []byte) ([]string, error) {
	var f vocabFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	phrases := make([]string, 0, len(f.Phrases))
	for _, p := range f.Phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases, nil
}
