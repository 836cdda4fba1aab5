package inference

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrainConfig is the training-time configuration stored next to a checkpoint.
// It is kept as a generic document; only the fields the predictor needs are
// read through typed accessors.
type TrainConfig struct {
	doc map[string]any
}

// ReadTrainConfig parses the YAML document at path.
func ReadTrainConfig(path string) (*TrainConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTrainConfig(b)
}

// ParseTrainConfig parses a YAML training configuration.
func ParseTrainConfig(b []byte) (*TrainConfig, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse training config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return &TrainConfig{doc: doc}, nil
}

// PrepareForPrediction marks the model as prediction-only and disables the
// visualizer, regardless of what the training run used.
func (c *TrainConfig) PrepareForPrediction() {
	c.Set("training_model.predict_only", true)
	c.Set("visualizer.kind", "noop")
}

// Set assigns value at a dotted path, creating intermediate maps.
func (c *TrainConfig) Set(path string, value any) {
	keys := strings.Split(path, ".")
	m := c.doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}

// Get returns the value at a dotted path.
func (c *TrainConfig) Get(path string) (any, bool) {
	var cur any = c.doc
	for _, k := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path if it is a string.
func (c *TrainConfig) String(path string) string {
	v, _ := c.Get(path)
	s, _ := v.(string)
	return s
}

// PredictOnly reports training_model.predict_only.
func (c *TrainConfig) PredictOnly() bool {
	v, _ := c.Get("training_model.predict_only")
	b, _ := v.(bool)
	return b
}

// GeneratorInputs lists the batch fields the exported generator consumes.
// Defaults to image and mask.
func (c *TrainConfig) GeneratorInputs() []string {
	if names := c.stringList("generator.inputs"); len(names) > 0 {
		return names
	}
	return []string{FieldImage, FieldMask}
}

// GeneratorOutputs lists the output names the exported generator declares.
// An empty list means every graph output is bound.
func (c *TrainConfig) GeneratorOutputs() []string {
	return c.stringList("generator.outputs")
}

func (c *TrainConfig) stringList(path string) []string {
	v, ok := c.Get(path)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
