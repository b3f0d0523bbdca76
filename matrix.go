package relpipe

import (
	"fmt"
	"strings"
)

// FlagRule derives a named boolean flag for an execution context by matching
// a substring against the variant name. Flags are computed once per context
// at resolve time; step guards reference them by name instead of matching
// strings themselves.
type FlagRule struct {
	// Flag is the name of the derived flag, e.g. "macos".
	Flag string
	// Substring is matched against the variant name; the flag is true when
	// the variant name contains it.
	Substring string
}

// Matrix declares the set of environment variants a stage fans out over,
// together with the rules that derive per-context flags.
type Matrix struct {
	// Variants are the named environment variants, e.g.
	// ["normal", "macos", "arm-macos"].
	Variants []string
	// FlagRules derive the boolean flags each resolved context carries.
	FlagRules []FlagRule
}

// ExecutionContext is one concrete environment variant a stage's steps run
// in. It is immutable once resolved; runtime state lives on ContextState.
type ExecutionContext struct {
	// Variant is the name of the matrix variant this context was resolved
	// from.
	Variant string
	// Flags are the named boolean conditions derived for this variant.
	Flags map[string]bool
}

// HasFlag reports whether the named flag is true for this context.
func (c *ExecutionContext) HasFlag(name string) bool {
	return c.Flags[name]
}

// Resolve expands the matrix into one execution context per variant.
// Resolution is pure and deterministic: the same matrix always resolves to
// the same contexts in the same order, and resolving twice yields equal
// results. Duplicate variant names are rejected.
func (m Matrix) Resolve() ([]*ExecutionContext, error) {
	seen := make(map[string]bool, len(m.Variants))
	contexts := make([]*ExecutionContext, 0, len(m.Variants))

	for _, variant := range m.Variants {
		if variant == "" {
			return nil, fmt.Errorf("matrix variant name cannot be empty")
		}
		if seen[variant] {
			return nil, fmt.Errorf("duplicate matrix variant: %s", variant)
		}
		seen[variant] = true

		flags := make(map[string]bool, len(m.FlagRules))
		for _, rule := range m.FlagRules {
			flags[rule.Flag] = strings.Contains(variant, rule.Substring)
		}

		contexts = append(contexts, &ExecutionContext{
			Variant: variant,
			Flags:   flags,
		})
	}

	return contexts, nil
}
