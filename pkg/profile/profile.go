package profile

import (
	"fmt"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// Profile is a named, composable bundle of cleanup rules. A profile may
// extend exactly one parent profile; resolution appends child rules after
// parent rules, preserving declaration order.
type Profile struct {
	// Extends names the parent profile. Cyclic extension is a load-time
	// error.
	Extends string `json:"extends,omitempty" jsonschema:"title=Extends"`
	// Description is an optional natural-language summary.
	Description string `json:"description,omitempty" jsonschema:"title=Description"`
	// Rules lists the profile's cleanup rules in execution order.
	Rules []*rule.Rule `json:"rules,omitempty" jsonschema:"title=Rules"`
}

// New creates a new [Profile].
func New(opts ...Opt) (*Profile, error) {
	p := &Profile{}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// MustNew creates a new [Profile] and panics on error.
func MustNew(opts ...Opt) *Profile {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}

	return p
}

type Opt func(p *Profile)

func WithExtends(parent string) Opt {
	return func(p *Profile) { p.Extends = parent }
}

func WithDescription(desc string) Opt {
	return func(p *Profile) { p.Description = desc }
}

func WithRules(rs ...*rule.Rule) Opt {
	return func(p *Profile) { p.Rules = append(p.Rules, rs...) }
}

// Validate checks each rule in the profile.
func (p *Profile) Validate() error {
	for i, r := range p.Rules {
		if r == nil {
			return fmt.Errorf("rule %d: nil rule", i)
		}

		if err := r.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (p *Profile) String() string {
	if p.Extends != "" {
		return fmt.Sprintf("%d rules (extends %s)", len(p.Rules), p.Extends)
	}

	return fmt.Sprintf("%d rules", len(p.Rules))
}
