package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/expr"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

var (
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrCyclicExtends   = errors.New("cyclic profile extension")
	ErrDuplicateRuleID = errors.New("duplicate rule id")
)

// Resolution is the flattened, ordered output of profile resolution: the
// active rules in execution order plus a stable fingerprint of everything
// that produced them.
type Resolution struct {
	// Profile is the requested profile name.
	Profile string
	// Flags is the feature-flag set the resolution was computed against.
	Flags map[string]bool
	// Rules is the flat, ordered, deduplicated rule list.
	Rules []*rule.Rule
	// Fingerprint is a deterministic hash over the serialized rule list
	// and the sorted flag set.
	Fingerprint string
}

// Chain returns the profile inheritance chain root-to-leaf for the given
// profile name, erroring on unknown parents and cycles.
func (c *Config) Chain(name string) ([]string, error) {
	var chain []string

	seen := map[string]bool{}
	for current := name; current != ""; {
		p, ok := c.Profiles[current]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, current)
		}

		if seen[current] {
			return nil, fmt.Errorf("%w: %s", ErrCyclicExtends,
				strings.Join(append(chain, current), " -> "))
		}

		seen[current] = true
		chain = append(chain, current)
		current = p.Extends
	}

	// The chain was collected leaf-to-root; rules apply root-to-leaf.
	slices.Reverse(chain)

	return chain, nil
}

// Resolve flattens the requested profile against the feature flags:
// inheritance chain root-to-leaf, then every conditional group whose
// guarding condition is true, in declared order. Rules whose own condition
// evaluates false are excluded from the set entirely.
func (c *Config) Resolve(profileName string, flags map[string]bool) (*Resolution, error) {
	chain, err := c.Chain(profileName)
	if err != nil {
		return nil, err
	}

	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}

	flagMap := expr.NewFlagMap(flags)

	var rules []*rule.Rule

	for _, name := range chain {
		for _, r := range c.Profiles[name].Rules {
			if err := r.CompileWhen(env); err != nil {
				return nil, fmt.Errorf("profile %q: rule %q: %w", name, r.ID, err)
			}

			if r.Enabled(flagMap) {
				rules = append(rules, r)
			}
		}
	}

	for i, cg := range c.Conditional {
		enabled, err := evalCondition(env, cg.When, flagMap)
		if err != nil {
			return nil, fmt.Errorf("conditional group %d: %w", i, err)
		}
		if !enabled {
			continue
		}

		for _, r := range cg.Rules {
			if err := r.CompileWhen(env); err != nil {
				return nil, fmt.Errorf("conditional group %d: rule %q: %w", i, r.ID, err)
			}

			if r.Enabled(flagMap) {
				rules = append(rules, r)
			}
		}
	}

	seen := map[string]bool{}
	for _, r := range rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRuleID, r.ID)
		}

		seen[r.ID] = true
	}

	// Bind marker pairs so executors never re-consult the config.
	for _, r := range rules {
		if r.Kind != rule.KindStripBlocks {
			continue
		}

		m, ok := c.Markers[r.Marker]
		if !ok {
			return nil, fmt.Errorf("rule %q: unknown marker %q", r.ID, r.Marker)
		}

		r.SetMarkerPair(m)
	}

	fingerprint, err := fingerprintRules(rules, flags)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Profile:     profileName,
		Flags:       flags,
		Rules:       rules,
		Fingerprint: fingerprint,
	}, nil
}

func evalCondition(env *expr.Environment, condition string, flags expr.FlagMap) (bool, error) {
	program, err := env.Compile(condition)
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}

	result, _, err := program.Eval(map[string]any{
		"flags": flags,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: non-boolean result", condition)
	}

	return boolVal, nil
}

// fingerprintRules computes a deterministic hash over the serialized rule
// list and the sorted feature-flag set.
func fingerprintRules(rules []*rule.Rule, flags map[string]bool) (string, error) {
	sortedFlags := make([]string, 0, len(flags))
	for name, value := range flags {
		sortedFlags = append(sortedFlags, fmt.Sprintf("%s=%t", name, value))
	}

	slices.Sort(sortedFlags)

	payload, err := json.Marshal(struct {
		Rules []*rule.Rule `json:"rules"`
		Flags []string     `json:"flags"`
	}{
		Rules: rules,
		Flags: sortedFlags,
	})
	if err != nil {
		return "", fmt.Errorf("serialize resolution: %w", err)
	}

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:]), nil
}
