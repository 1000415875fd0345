package intent

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed examples.yaml
var examplesYAML []byte

// Example is one few-shot pair shown to the classifier.
type Example struct {
	Utterance string `yaml:"utterance"`
	Context   string `yaml:"context,omitempty"`
	Intent    Intent `yaml:"intent"`
}

// LoadExamples decodes a YAML list of examples.
func LoadExamples(data []byte) ([]Example, error) {
	var out []Example
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode examples: %w", err)
	}
	for i, ex := range out {
		if ex.Utterance == "" || ex.Intent.Command == "" {
			return nil, fmt.Errorf("example %d: utterance and command are required", i)
		}
		if out[i].Intent.Args == nil {
			out[i].Intent.Args = []string{}
		}
	}
	return out, nil
}

// DefaultExamples returns the built-in examples.
func DefaultExamples() []Example {
	ex, err := LoadExamples(examplesYAML)
	if err != nil {
		panic(err)
	}
	return ex
}
