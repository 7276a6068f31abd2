// Package pipeline holds the pipeline definition: an ordered list of shell steps.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
)

// Step is one command of a pipeline, identified by its position.
// An empty Cmd is a no-op step that always succeeds.
type Step struct {
	Cmd string `json:"cmd" yaml:"cmd" toml:"cmd"`
}

// Definition is the parsed, immutable work description of one build.
type Definition struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Steps       []Step `json:"steps" yaml:"steps" toml:"steps"`
}

// TotalSteps is the denominator used for progress percentages.
// A pipeline without steps still counts as one unit of work.
func (d Definition) TotalSteps() int {
	return max(1, len(d.Steps))
}

// ConfigJSON returns the stored form of the definition: {"steps":[{"cmd":...}]}.
func (d Definition) ConfigJSON() (string, error) {
	steps := d.Steps
	if steps == nil {
		steps = []Step{}
	}
	b, err := json.Marshal(struct {
		Steps []Step `json:"steps"`
	}{Steps: steps})
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryPipeline, "failed to encode pipeline definition").Build()
	}
	return string(b), nil
}

// Parse decodes the stored pipeline configuration. An empty string, "{}",
// a null or missing "steps" key all yield a definition with no steps.
func Parse(configJSON string) (Definition, error) {
	var def Definition
	if strings.TrimSpace(configJSON) == "" {
		return def, nil
	}
	if err := json.Unmarshal([]byte(configJSON), &def); err != nil {
		return Definition{}, errors.WrapError(err, errors.CategoryPipeline, "invalid pipeline configuration").Build()
	}
	return def, nil
}

// Load reads a pipeline file. The format is picked from the extension:
// .yaml/.yml, .toml or .json.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, errors.WrapError(err, errors.CategoryFileSystem, "failed to read pipeline file").
			WithContext("path", path).
			Build()
	}

	var def Definition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	case ".toml":
		err = toml.Unmarshal(data, &def)
	case ".json":
		err = json.Unmarshal(data, &def)
	default:
		return Definition{}, errors.PipelineError("unsupported pipeline file format").
			WithContext("path", path).
			WithContext("extension", ext).
			Build()
	}
	if err != nil {
		return Definition{}, errors.WrapError(err, errors.CategoryPipeline, "failed to decode pipeline file").
			WithContext("path", path).
			Build()
	}

	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}
