package rule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/expr"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		kind    rule.Kind
		opts    []rule.Opt
		wantErr error
	}{
		"valid strip-blocks": {
			kind: rule.KindStripBlocks,
			opts: []rule.Opt{
				rule.WithMarker("template-only"),
				rule.WithPaths(pattern.New("**")),
			},
		},
		"strip-blocks without marker": {
			kind: rule.KindStripBlocks,
			opts: []rule.Opt{
				rule.WithPaths(pattern.New("**")),
			},
			wantErr: rule.ErrInvalidRule,
		},
		"valid strip-lines": {
			kind: rule.KindStripLines,
			opts: []rule.Opt{
				rule.WithTag("@template-only"),
				rule.WithPaths(pattern.New("**")),
			},
		},
		"strip-lines without tag": {
			kind: rule.KindStripLines,
			opts: []rule.Opt{
				rule.WithPaths(pattern.New("**")),
			},
			wantErr: rule.ErrInvalidRule,
		},
		"delete without paths": {
			kind:    rule.KindDelete,
			wantErr: rule.ErrInvalidRule,
		},
		"delete with invalid pattern": {
			kind: rule.KindDelete,
			opts: []rule.Opt{
				rule.WithPaths(pattern.New("[unclosed")),
			},
			wantErr: pattern.ErrInvalidPattern,
		},
		"valid prune-deps": {
			kind: rule.KindPruneDeps,
			opts: []rule.Opt{
				rule.WithManifest(&rule.Manifest{
					Kind:         rule.ManifestNPM,
					Dependencies: []string{"left-pad"},
				}),
			},
		},
		"prune-deps without dependencies": {
			kind: rule.KindPruneDeps,
			opts: []rule.Opt{
				rule.WithManifest(&rule.Manifest{Kind: rule.ManifestNPM}),
			},
			wantErr: rule.ErrInvalidRule,
		},
		"prune-deps with unknown manifest kind": {
			kind: rule.KindPruneDeps,
			opts: []rule.Opt{
				rule.WithManifest(&rule.Manifest{
					Kind:         "cargo",
					Dependencies: []string{"serde"},
				}),
			},
			wantErr: rule.ErrInvalidRule,
		},
		"prune-empty needs nothing": {
			kind: rule.KindPruneEmpty,
		},
		"unknown kind": {
			kind:    "transmogrify",
			wantErr: rule.ErrUnknownKind,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, err := rule.New("test-rule", tc.kind, tc.opts...)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, r)
			} else {
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.Equal(t, "test-rule", r.ID)
			}
		})
	}
}

func TestManifest_EnsureDefaults(t *testing.T) {
	t.Parallel()

	t.Run("npm", func(t *testing.T) {
		t.Parallel()

		m := &rule.Manifest{Kind: rule.ManifestNPM, Dependencies: []string{"x"}}
		m.EnsureDefaults()

		assert.Equal(t, "package.json", m.Path)
		assert.Equal(t, []string{"dependencies", "devDependencies"}, m.Groups)
	})

	t.Run("pip", func(t *testing.T) {
		t.Parallel()

		m := &rule.Manifest{Kind: rule.ManifestPip, Dependencies: []string{"x"}}
		m.EnsureDefaults()

		assert.Equal(t, "requirements.txt", m.Path)
		assert.Empty(t, m.Groups)
	})

	t.Run("explicit path is preserved", func(t *testing.T) {
		t.Parallel()

		m := &rule.Manifest{Kind: rule.ManifestNPM, Path: "web/package.json", Dependencies: []string{"x"}}
		m.EnsureDefaults()

		assert.Equal(t, "web/package.json", m.Path)
	})
}

func TestMarkerPair_Validate(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		pair    rule.MarkerPair
		wantErr bool
	}{
		"valid":         {pair: rule.MarkerPair{Start: "TEMPLATE-ONLY:START", End: "TEMPLATE-ONLY:END"}},
		"missing start": {pair: rule.MarkerPair{End: "END"}, wantErr: true},
		"missing end":   {pair: rule.MarkerPair{Start: "START"}, wantErr: true},
		"identical":     {pair: rule.MarkerPair{Start: "MARK", End: "MARK"}, wantErr: true},
		// Overlapping pairs would misread every end line as a stray start.
		"end contains start": {pair: rule.MarkerPair{Start: "BEGIN", End: "BEGIN-END"}, wantErr: true},
		"start contains end": {pair: rule.MarkerPair{Start: "END-BLOCK", End: "END"}, wantErr: true},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.pair.Validate()

			if tc.wantErr {
				require.ErrorIs(t, err, rule.ErrInvalidRule)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRule_Enabled(t *testing.T) {
	t.Parallel()

	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	tcs := map[string]struct {
		flags map[string]bool
		when  string
		want  bool
	}{
		"no condition is always enabled": {
			when: "",
			want: true,
		},
		"condition true": {
			when:  "flags.docker",
			flags: map[string]bool{"docker": true},
			want:  true,
		},
		"condition false": {
			when:  "flags.docker",
			flags: map[string]bool{},
			want:  false,
		},
		"negation over missing flag": {
			when: "!flags.ci",
			want: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := rule.MustNew("r", rule.KindDelete,
				rule.WithPaths(pattern.New("**")),
				rule.WithWhen(tc.when),
			)
			require.NoError(t, r.CompileWhen(env))

			assert.Equal(t, tc.want, r.Enabled(expr.NewFlagMap(tc.flags)))
		})
	}

	t.Run("uncompiled condition panics", func(t *testing.T) {
		t.Parallel()

		r := rule.MustNew("r", rule.KindDelete,
			rule.WithPaths(pattern.New("**")),
			rule.WithWhen("flags.docker"),
		)

		assert.Panics(t, func() {
			r.Enabled(expr.NewFlagMap(nil))
		})
	})
}
