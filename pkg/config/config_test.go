package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/profile"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

const validConfig = `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
markers:
  template-only:
    start: "TEMPLATE-ONLY:START"
    end: "TEMPLATE-ONLY:END"
profiles:
  default:
    rules:
      - id: strip-blocks
        kind: strip-blocks
        marker: template-only
        paths:
          include: ["**/*"]
      - id: remove-docs
        kind: delete
        paths:
          include: ["TEMPLATE*.md"]
`

func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "devtmpl.xylardark.dev/v1beta1", cfg.APIVersion)
	assert.Equal(t, "CleanupConfig", cfg.Kind)
	assert.Contains(t, cfg.Markers, config.DefaultMarkerName)
	assert.Contains(t, cfg.Profiles, "default")
	assert.Contains(t, cfg.Profiles, "minimal")
}

func TestConfig_EnsureDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
	}

	assert.Nil(t, cfg.Markers)
	assert.Nil(t, cfg.Profiles)

	cfg.EnsureDefaults()

	assert.NotNil(t, cfg.Markers)
	assert.NotNil(t, cfg.Profiles)
}

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.NewConfig().Validate())
}

func TestConfigLoader_Validate(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		data    string
		wantErr bool
	}{
		"valid config": {
			data: validConfig,
		},
		"wrong kind": {
			data: `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: Widget
`,
			wantErr: true,
		},
		"unknown rule kind": {
			data: `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
profiles:
  default:
    rules:
      - id: x
        kind: transmogrify
`,
			wantErr: true,
		},
		"unknown top-level field": {
			data: `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
widgets: []
`,
			wantErr: true,
		},
		"not yaml": {
			data:    "{{{",
			wantErr: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := config.NewConfigLoaderFromBytes([]byte(tc.data)).Validate()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigLoader_Load(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.NewConfigLoaderFromBytes([]byte(validConfig)).Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		p, ok := cfg.Profiles["default"]
		require.True(t, ok)
		require.Len(t, p.Rules, 2)
		assert.Equal(t, rule.KindStripBlocks, p.Rules[0].Kind)
	})

	t.Run("unknown extends target", func(t *testing.T) {
		t.Parallel()

		data := `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
profiles:
  custom:
    extends: missing
`

		_, err := config.NewConfigLoaderFromBytes([]byte(data)).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("cyclic extends", func(t *testing.T) {
		t.Parallel()

		data := `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
profiles:
  a:
    extends: b
  b:
    extends: a
`

		_, err := config.NewConfigLoaderFromBytes([]byte(data)).Load()
		require.Error(t, err)
		require.ErrorIs(t, err, config.ErrCyclicExtends)
	})

	t.Run("unknown marker reference", func(t *testing.T) {
		t.Parallel()

		data := `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
profiles:
  default:
    rules:
      - id: strip
        kind: strip-blocks
        marker: nonexistent
        paths:
          include: ["**"]
`

		_, err := config.NewConfigLoaderFromBytes([]byte(data)).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonexistent")
	})

	t.Run("invalid condition", func(t *testing.T) {
		t.Parallel()

		data := `apiVersion: devtmpl.xylardark.dev/v1beta1
kind: CleanupConfig
conditional:
  - when: "flags.docker &&"
    rules:
      - id: remove-docker
        kind: delete
        paths:
          include: ["Dockerfile"]
`

		_, err := config.NewConfigLoaderFromBytes([]byte(data)).Load()
		require.Error(t, err)
	})
}

func TestWriteDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, config.WriteDefaultConfig(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "apiVersion: devtmpl.xylardark.dev/v1beta1")

	// The schema lands next to the config.
	_, err = os.Stat(filepath.Join(dir, "config.v1beta1.json"))
	require.NoError(t, err)

	// Written default loads cleanly end to end.
	cl, err := config.NewConfigLoaderFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cl.Validate())

	cfg, err := cl.Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.Profiles, "default")

	// A second write without force keeps the existing file.
	require.NoError(t, os.WriteFile(path, []byte("# modified"), 0o600))
	require.NoError(t, config.WriteDefaultConfig(path, false))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# modified", string(data))

	// Force overwrites.
	require.NoError(t, config.WriteDefaultConfig(path, true))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "apiVersion:")
}

func TestGetPath(t *testing.T) {
	t.Parallel()

	t.Run("project-local file wins", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		local := filepath.Join(dir, config.DefaultFileName)
		require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))

		assert.Equal(t, local, config.GetPath(dir))
	})

	t.Run("falls back to user config", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()

		got := config.GetPath(dir)
		assert.NotEqual(t, filepath.Join(dir, config.DefaultFileName), got)
		assert.Contains(t, got, "devtmpl")
	})
}

func TestConfig_MarshalYAML(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
		Profiles: map[string]*profile.Profile{
			"empty": profile.MustNew(profile.WithDescription("nothing")),
		},
	}

	data, err := cfg.MarshalYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "apiVersion: devtmpl.xylardark.dev/v1beta1")
	assert.Contains(t, string(data), "empty:")
}
