package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/cache"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/engine"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/profile"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// writeTree materializes a fixture tree in a fresh temp directory.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	return root
}

// readTree snapshots all regular files under root, keyed by slash path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	files := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files[filepath.ToSlash(rel)] = string(data)

		return nil
	})
	require.NoError(t, err)

	return files
}

func testFixture(t *testing.T) map[string]string {
	t.Helper()

	return map[string]string{
		"main.py": `import os
# TEMPLATE-ONLY:START
print("remove me")
# TEMPLATE-ONLY:END
import helper  # @template-only
print("keep")
`,
		"TEMPLATE_README.md": "template instructions\n",
		"src/app.py":         "print(\"app\")\n",
	}
}

func testCleanupConfig() *config.Config {
	return &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
		Markers: map[string]*rule.MarkerPair{
			"template-only": {Start: "TEMPLATE-ONLY:START", End: "TEMPLATE-ONLY:END"},
		},
		Profiles: map[string]*profile.Profile{
			"default": profile.MustNew(
				profile.WithRules(
					rule.MustNew("strip-blocks", rule.KindStripBlocks,
						rule.WithMarker("template-only"),
						rule.WithPaths(pattern.MustNew("**/*.py")),
					),
					rule.MustNew("strip-lines", rule.KindStripLines,
						rule.WithTag("@template-only"),
						rule.WithPaths(pattern.MustNew("**/*.py")),
					),
					rule.MustNew("remove-template-docs", rule.KindDelete,
						rule.WithPaths(pattern.MustNew("TEMPLATE*.md")),
					),
				),
			),
		},
	}
}

// stripDryRun normalizes the mode marker so dry-run and apply action sets
// compare equal.
func stripDryRun(actions []report.Action) []report.Action {
	out := make([]report.Action, len(actions))
	for i, a := range actions {
		a.DryRun = false
		out[i] = a
	}

	return out
}

func TestEngine_DryRunDoesNotMutate(t *testing.T) {
	t.Parallel()

	root := writeTree(t, testFixture(t))
	before := readTree(t, root)

	eng, err := engine.New(root, testCleanupConfig(), engine.WithDryRun(true))
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, engine.StateDone, eng.State())
	assert.True(t, rep.DryRun)
	assert.NotEmpty(t, rep.Actions)

	for _, a := range rep.Actions {
		assert.True(t, a.DryRun)
	}

	assert.Equal(t, before, readTree(t, root), "dry-run must not touch the tree")
}

func TestEngine_Apply(t *testing.T) {
	t.Parallel()

	root := writeTree(t, testFixture(t))

	eng, err := engine.New(root, testCleanupConfig())
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Empty(t, rep.Errors)

	after := readTree(t, root)

	assert.Equal(t, "import os\nprint(\"keep\")\n", after["main.py"])
	assert.NotContains(t, after, "TEMPLATE_README.md")
	assert.Contains(t, after, "src/app.py")

	// One block action, one lines action, one delete.
	assert.Equal(t, 1, rep.Summary.Actions[report.ActionBlockRemoved])
	assert.Equal(t, 1, rep.Summary.Actions[report.ActionLinesRemoved])
	assert.Equal(t, 1, rep.Summary.Actions[report.ActionFileDeleted])

	// Actions reference their producing rule and path.
	assert.Equal(t, "strip-blocks", rep.Actions[0].Rule)
	assert.Equal(t, "main.py", rep.Actions[0].Path)
}

func TestEngine_DryRunApplyEquivalence(t *testing.T) {
	t.Parallel()

	dryRoot := writeTree(t, testFixture(t))
	applyRoot := writeTree(t, testFixture(t))

	dryEng, err := engine.New(dryRoot, testCleanupConfig(), engine.WithDryRun(true))
	require.NoError(t, err)

	dryRep, err := dryEng.Run(t.Context())
	require.NoError(t, err)

	applyEng, err := engine.New(applyRoot, testCleanupConfig())
	require.NoError(t, err)

	applyRep, err := applyEng.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, stripDryRun(dryRep.Actions), stripDryRun(applyRep.Actions))
	assert.Equal(t, dryRep.Summary, applyRep.Summary)
}

func TestEngine_ApplyIdempotent(t *testing.T) {
	t.Parallel()

	root := writeTree(t, testFixture(t))

	first, err := engine.New(root, testCleanupConfig())
	require.NoError(t, err)

	rep, err := first.Run(t.Context())
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Actions)

	second, err := engine.New(root, testCleanupConfig())
	require.NoError(t, err)

	rep, err = second.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, rep.Actions, "second apply run must be a no-op")
}

func TestEngine_UnbalancedMarkers(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"broken.py": "# TEMPLATE-ONLY:START\nnever closed\n",
	})
	before := readTree(t, root)

	eng, err := engine.New(root, testCleanupConfig())
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err, "file-level failures must not fail the run")

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "strip-blocks", rep.Errors[0].Rule)
	assert.Equal(t, "broken.py", rep.Errors[0].Path)

	assert.Equal(t, before, readTree(t, root), "offending file stays untouched")
}

func TestEngine_DeleteMissingIsNoOp(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{"src/app.py": "x = 1\n"})

	eng, err := engine.New(root, testCleanupConfig())
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)

	assert.Empty(t, rep.Errors)

	for _, a := range rep.Actions {
		assert.NotEqual(t, report.ActionFileDeleted, a.Kind)
	}
}

func TestEngine_ExclusionPrecedence(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"TEMPLATE_README.md": "delete\n",
		"TEMPLATE_KEEP.md":   "keep via engine exclusion\n",
	})

	eng, err := engine.New(root, testCleanupConfig(),
		engine.WithExcludes("TEMPLATE_KEEP.md"),
	)
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)

	after := readTree(t, root)
	assert.NotContains(t, after, "TEMPLATE_README.md")
	assert.Contains(t, after, "TEMPLATE_KEEP.md")

	for _, a := range rep.Actions {
		assert.NotEqual(t, "TEMPLATE_KEEP.md", a.Path)
	}
}

func TestEngine_RuleFilter(t *testing.T) {
	t.Parallel()

	t.Run("allow list", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, testFixture(t))

		eng, err := engine.New(root, testCleanupConfig(),
			engine.WithRuleFilter([]string{"remove-template-docs"}, nil),
		)
		require.NoError(t, err)

		rep, err := eng.Run(t.Context())
		require.NoError(t, err)

		require.Len(t, rep.Actions, 1)
		assert.Equal(t, report.ActionFileDeleted, rep.Actions[0].Kind)

		after := readTree(t, root)
		assert.Contains(t, after["main.py"], "TEMPLATE-ONLY:START", "filtered rules must not run")
	})

	t.Run("deny list", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, testFixture(t))

		eng, err := engine.New(root, testCleanupConfig(),
			engine.WithRuleFilter(nil, []string{"remove-template-docs"}),
		)
		require.NoError(t, err)

		rep, err := eng.Run(t.Context())
		require.NoError(t, err)

		after := readTree(t, root)
		assert.Contains(t, after, "TEMPLATE_README.md")

		for _, a := range rep.Actions {
			assert.NotEqual(t, "remove-template-docs", a.Rule)
		}
	})
}

func TestEngine_FailOnActions(t *testing.T) {
	t.Parallel()

	root := writeTree(t, testFixture(t))

	eng, err := engine.New(root, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithFailOnActions(true),
	)
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.ErrorIs(t, err, engine.ErrActionsDetected)
	require.NotNil(t, rep, "the report is still produced")
	assert.Equal(t, engine.StateFailed, eng.State())

	// A clean tree passes the gate.
	cleanRoot := writeTree(t, map[string]string{"src/app.py": "x = 1\n"})

	eng, err = engine.New(cleanRoot, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithFailOnActions(true),
	)
	require.NoError(t, err)

	_, err = eng.Run(t.Context())
	require.NoError(t, err)
}

func TestEngine_CacheTransparency(t *testing.T) {
	t.Parallel()

	fileCache := cache.NewFileCache(t.TempDir())

	root := writeTree(t, testFixture(t))

	first, err := engine.New(root, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithCache(fileCache),
	)
	require.NoError(t, err)

	firstRep, err := first.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, engine.StateDone, first.State())

	second, err := engine.New(root, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithCache(fileCache),
	)
	require.NoError(t, err)

	secondRep, err := second.Run(t.Context())
	require.NoError(t, err)

	// The replayed plan is identical, id and timestamp aside.
	assert.Equal(t, firstRep.Actions, secondRep.Actions)
	assert.Equal(t, firstRep.Summary, secondRep.Summary)

	// Disabling the cache yields the same plan.
	uncached, err := engine.New(root, testCleanupConfig(), engine.WithDryRun(true))
	require.NoError(t, err)

	uncachedRep, err := uncached.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, firstRep.Actions, uncachedRep.Actions)

	// Editing the tree invalidates the cached plan.
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.py"), []byte("y = 2\n"), 0o644))

	third, err := engine.New(root, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithCache(fileCache),
	)
	require.NoError(t, err)

	_, err = third.Run(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, engine.StateCacheHit, third.State())
}

func TestEngine_WorkersProduceCanonicalOrder(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files[name+".py"] = "x = 1  # @template-only\nkeep = 2\n"
	}

	sequentialRoot := writeTree(t, files)
	parallelRoot := writeTree(t, files)

	seq, err := engine.New(sequentialRoot, testCleanupConfig(), engine.WithDryRun(true))
	require.NoError(t, err)

	seqRep, err := seq.Run(t.Context())
	require.NoError(t, err)

	par, err := engine.New(parallelRoot, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithWorkers(4),
	)
	require.NoError(t, err)

	parRep, err := par.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, seqRep.Actions, parRep.Actions)
}

func TestEngine_PruneDeps(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
		Profiles: map[string]*profile.Profile{
			"default": profile.MustNew(
				profile.WithRules(
					rule.MustNew("prune-npm", rule.KindPruneDeps,
						rule.WithManifest(&rule.Manifest{
							Kind:         rule.ManifestNPM,
							Dependencies: []string{"b"},
						}),
					),
					rule.MustNew("prune-pip", rule.KindPruneDeps,
						rule.WithManifest(&rule.Manifest{
							Kind:         rule.ManifestPip,
							Dependencies: []string{"cookiecutter"},
						}),
					),
				),
			),
		},
	}

	t.Run("npm and pip rewrite", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, map[string]string{
			"package.json":     `{"dependencies":{"a":"1.0","b":"2.0"}}`,
			"requirements.txt": "flask==2.3.0\ncookiecutter>=2.0\n",
		})

		eng, err := engine.New(root, cfg)
		require.NoError(t, err)

		rep, err := eng.Run(t.Context())
		require.NoError(t, err)
		assert.Empty(t, rep.Errors)

		after := readTree(t, root)
		assert.JSONEq(t, `{"dependencies":{"a":"1.0"}}`, after["package.json"])
		assert.Equal(t, "flask==2.3.0\n", after["requirements.txt"])

		assert.Equal(t, 2, rep.Summary.Actions[report.ActionDependencyRemoved])
	})

	t.Run("missing manifest is a no-op", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, map[string]string{"src/app.py": "x\n"})

		eng, err := engine.New(root, cfg)
		require.NoError(t, err)

		rep, err := eng.Run(t.Context())
		require.NoError(t, err)
		assert.Empty(t, rep.Errors)
		assert.Empty(t, rep.Actions)
	})

	t.Run("absent dependency is silent", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, map[string]string{
			"package.json": `{"dependencies":{"a":"1.0"}}`,
		})

		eng, err := engine.New(root, cfg)
		require.NoError(t, err)

		rep, err := eng.Run(t.Context())
		require.NoError(t, err)
		assert.Empty(t, rep.Errors)
		assert.Empty(t, rep.Actions)
	})
}

func TestEngine_PruneEmptyCascade(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
		Markers: map[string]*rule.MarkerPair{
			"template-only": {Start: "TEMPLATE-ONLY:START", End: "TEMPLATE-ONLY:END"},
		},
		Profiles: map[string]*profile.Profile{
			"default": profile.MustNew(
				profile.WithRules(
					rule.MustNew("strip-blocks", rule.KindStripBlocks,
						rule.WithMarker("template-only"),
						rule.WithPaths(pattern.MustNew("**/*")),
					),
					rule.MustNew("prune-empty", rule.KindPruneEmpty,
						rule.WithEmpty(&rule.Empty{WhitespaceOnly: true}),
					),
				),
			),
		},
	}

	root := writeTree(t, map[string]string{
		// File becomes whitespace-only after block stripping; its whole
		// directory chain then collapses.
		"nested/deep/only.txt": "# TEMPLATE-ONLY:START\neverything\n# TEMPLATE-ONLY:END\n",
		"nested/empty.txt":     "",
		"keep.txt":             "content\n",
	})

	eng, err := engine.New(root, cfg)
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, rep.Errors)

	after := readTree(t, root)
	assert.Equal(t, map[string]string{"keep.txt": "content\n"}, after)

	_, err = os.Stat(filepath.Join(root, "nested"))
	require.ErrorIs(t, err, os.ErrNotExist, "emptied directory chain is removed")

	// Dry-run on an identical tree predicts the same cascade.
	dryRoot := writeTree(t, map[string]string{
		"nested/deep/only.txt": "# TEMPLATE-ONLY:START\neverything\n# TEMPLATE-ONLY:END\n",
		"nested/empty.txt":     "",
		"keep.txt":             "content\n",
	})

	dryEng, err := engine.New(dryRoot, cfg, engine.WithDryRun(true))
	require.NoError(t, err)

	dryRep, err := dryEng.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, stripDryRun(rep.Actions), stripDryRun(dryRep.Actions))
}

func TestEngine_PruneEmptyKeepsParentOfExcludedSubtree(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
		Profiles: map[string]*profile.Profile{
			"default": profile.MustNew(
				profile.WithRules(
					rule.MustNew("prune-empty", rule.KindPruneEmpty,
						rule.WithEmpty(&rule.Empty{WhitespaceOnly: true}),
					),
				),
			),
		},
	}

	// parent holds nothing but an excluded subtree: the exclusion must keep
	// parent occupied, in dry-run and apply alike.
	files := map[string]string{
		"parent/build/artifact.txt": "built\n",
		"keep.txt":                  "content\n",
	}

	dryRoot := writeTree(t, files)
	applyRoot := writeTree(t, files)

	dryEng, err := engine.New(dryRoot, cfg,
		engine.WithDryRun(true),
		engine.WithExcludes("parent/build"),
	)
	require.NoError(t, err)

	dryRep, err := dryEng.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, dryRep.Errors)
	assert.Empty(t, dryRep.Actions)

	applyEng, err := engine.New(applyRoot, cfg,
		engine.WithExcludes("parent/build"),
	)
	require.NoError(t, err)

	applyRep, err := applyEng.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, applyRep.Errors)
	assert.Equal(t, stripDryRun(dryRep.Actions), stripDryRun(applyRep.Actions))

	assert.Equal(t, files, readTree(t, applyRoot), "excluded subtree and its parent stay")
}

func TestEngine_Diff(t *testing.T) {
	t.Parallel()

	root := writeTree(t, testFixture(t))

	eng, err := engine.New(root, testCleanupConfig(),
		engine.WithDryRun(true),
		engine.WithDiff(true),
	)
	require.NoError(t, err)

	rep, err := eng.Run(t.Context())
	require.NoError(t, err)

	var sawDiff bool

	for _, a := range rep.Actions {
		if a.Kind == report.ActionBlockRemoved {
			sawDiff = true
			assert.Contains(t, a.Diff, "-# TEMPLATE-ONLY:START")
		}
	}

	assert.True(t, sawDiff)
}

func TestEngine_UnknownProfileFails(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{"a.txt": "x\n"})

	eng, err := engine.New(root, testCleanupConfig(), engine.WithProfile("ghost"))
	require.NoError(t, err)

	_, err = eng.Run(t.Context())
	require.ErrorIs(t, err, config.ErrUnknownProfile)
	assert.Equal(t, engine.StateFailed, eng.State())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()

		_, err := engine.New(filepath.Join(t.TempDir(), "missing"), testCleanupConfig())
		require.Error(t, err)
	})

	t.Run("root is a file", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, map[string]string{"f.txt": "x"})

		_, err := engine.New(filepath.Join(root, "f.txt"), testCleanupConfig())
		require.Error(t, err)
	})

	t.Run("negative workers", func(t *testing.T) {
		t.Parallel()

		root := writeTree(t, map[string]string{"f.txt": "x"})

		_, err := engine.New(root, testCleanupConfig(), engine.WithWorkers(-1))
		require.Error(t, err)
	})
}
