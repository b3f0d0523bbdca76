package relpipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineDef is the serializable representation of a Pipeline, as read
// from a YAML definition file.
type PipelineDef struct {
	// Name identifies the pipeline.
	Name string `yaml:"name"`
	// Branch is the target branch whose pushes trigger runs.
	Branch string `yaml:"branch"`
	// Group overrides the concurrency group key, if set.
	Group string `yaml:"group,omitempty"`
	// Stages in execution order.
	Stages []StageDef `yaml:"stages"`
}

// StageDef is the serializable representation of a Stage.
type StageDef struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Matrix      MatrixDef `yaml:"matrix"`
	Steps       []StepDef `yaml:"steps"`
}

// MatrixDef is the serializable representation of a Matrix.
type MatrixDef struct {
	Variants []string      `yaml:"variants"`
	Flags    []FlagRuleDef `yaml:"flags,omitempty"`
}

// FlagRuleDef derives a named flag from a substring match on the variant
// name.
type FlagRuleDef struct {
	Flag     string `yaml:"flag"`
	Contains string `yaml:"contains"`
}

// StepDef is the serializable representation of a Step.
type StepDef struct {
	Name        string            `yaml:"name"`
	Uses        string            `yaml:"uses,omitempty"`
	Command     []string          `yaml:"command"`
	Env         map[string]string `yaml:"env,omitempty"`
	Dir         string            `yaml:"dir,omitempty"`
	Credentials []string          `yaml:"credentials,omitempty"`
	When        []string          `yaml:"when,omitempty"`
}

// LoadPipeline reads and parses a pipeline definition file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses a YAML pipeline definition and builds the pipeline.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var def PipelineDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	return BuildPipeline(def)
}

// BuildPipeline validates a definition and constructs the Pipeline.
func BuildPipeline(def PipelineDef) (*Pipeline, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	if def.Branch == "" {
		return nil, fmt.Errorf("pipeline '%s': target branch is required", def.Name)
	}
	if len(def.Stages) == 0 {
		return nil, fmt.Errorf("pipeline '%s': at least one stage is required", def.Name)
	}

	p := NewPipeline(def.Name, def.Branch)
	p.GroupKey = def.Group

	seen := make(map[string]bool, len(def.Stages))
	for _, sd := range def.Stages {
		if sd.Name == "" {
			return nil, fmt.Errorf("pipeline '%s': stage name is required", def.Name)
		}
		if seen[sd.Name] {
			return nil, fmt.Errorf("pipeline '%s': duplicate stage '%s'", def.Name, sd.Name)
		}
		seen[sd.Name] = true

		stage := NewStage(sd.Name, sd.Description)
		matrix := Matrix{Variants: sd.Matrix.Variants}
		for _, fr := range sd.Matrix.Flags {
			if fr.Flag == "" {
				return nil, fmt.Errorf("stage '%s': flag rule needs a flag name", sd.Name)
			}
			matrix.FlagRules = append(matrix.FlagRules, FlagRule{Flag: fr.Flag, Substring: fr.Contains})
		}
		stage.SetMatrix(matrix)

		for _, stepDef := range sd.Steps {
			if stepDef.Name == "" {
				return nil, fmt.Errorf("stage '%s': step name is required", sd.Name)
			}
			if len(stepDef.Command) == 0 {
				return nil, fmt.Errorf("stage '%s' step '%s': command is required", sd.Name, stepDef.Name)
			}
			stage.AddStep(Step{
				Name:        stepDef.Name,
				Uses:        stepDef.Uses,
				Command:     stepDef.Command,
				Env:         stepDef.Env,
				Dir:         stepDef.Dir,
				Credentials: stepDef.Credentials,
				When:        stepDef.When,
			})
		}

		p.AddStage(stage)
	}

	return p, nil
}
