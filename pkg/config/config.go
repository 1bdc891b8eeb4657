package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	_ "embed"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/expr"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/profile"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/yaml"
)

//go:generate go run ../../internal/schemagen/main.go -o config.v1beta1.json

var (
	//go:embed config.yaml
	defaultConfigYAML []byte

	//go:embed config.v1beta1.json
	schemaJSON []byte

	ValidAPIVersions = []string{
		"devtmpl.xylardark.dev/v1beta1",
	}
	ValidKinds = []string{
		"CleanupConfig",
	}

	DefaultValidator = yaml.MustNewValidator("/config.v1beta1.json", schemaJSON)

	// DefaultFileName is the project-local configuration file name.
	DefaultFileName = ".devtmpl.yaml"
)

// ConditionalRules is a feature-gated rule group. When the condition
// evaluates true for the active flag set, the group's rules are appended
// after the profile-derived rules, in declared order.
type ConditionalRules struct {
	// When is a CEL condition over feature flags guarding the group.
	When string `json:"when" jsonschema:"title=Condition"`
	// Rules lists the rules activated by the condition.
	Rules []*rule.Rule `json:"rules" jsonschema:"title=Rules"`
}

//nolint:recvcheck // Must satisfy the jsonschema interface.
type Config struct {
	// Markers maps marker-pair names to their start/end delimiters.
	Markers map[string]*rule.MarkerPair `json:"markers,omitempty" jsonschema:"title=Markers"`
	// Profiles contains a map of profile names to cleanup profiles.
	Profiles map[string]*profile.Profile `json:"profiles,omitempty" jsonschema:"title=Profiles"`
	// Conditional lists feature-gated rule groups.
	Conditional []*ConditionalRules `json:"conditional,omitempty" jsonschema:"title=Conditional Rules"`
	// APIVersion specifies the API version for this configuration.
	APIVersion string `json:"apiVersion" jsonschema:"title=API Version"`
	// Kind defines the type of configuration.
	Kind string `json:"kind" jsonschema:"title=Kind"`
}

func NewConfig() *Config {
	c := &Config{
		APIVersion: "devtmpl.xylardark.dev/v1beta1",
		Kind:       "CleanupConfig",
	}
	c.EnsureDefaults()

	return c
}

func (c *Config) EnsureDefaults() {
	if c.Markers == nil {
		c.Markers = defaultMarkers()
	}
	if c.Profiles == nil {
		c.Profiles = defaultProfiles()
	}
}

// Validate compiles every condition and checks cross-references: marker
// names, extends targets, and extends cycles. Any failure here aborts the
// run before a single file is touched.
func (c *Config) Validate() error {
	pb := yaml.NewPathBuilder()

	env, err := expr.NewEnvironment()
	if err != nil {
		return fmt.Errorf("create condition environment: %w", err)
	}

	for name, m := range c.Markers {
		if err := m.Validate(); err != nil {
			return yaml.NewError(
				fmt.Errorf("invalid marker %q: %w", name, err),
				yaml.WithPath(pb.Root().Child("markers").Child(name).Build()),
			)
		}
	}

	for name, p := range c.Profiles {
		if p == nil {
			return yaml.NewError(
				fmt.Errorf("profile %q: empty profile", name),
				yaml.WithPath(pb.Root().Child("profiles").Child(name).Build()),
			)
		}

		if p.Extends != "" {
			if _, ok := c.Profiles[p.Extends]; !ok {
				return yaml.NewError(
					fmt.Errorf("profile %q extends unknown profile %q", name, p.Extends),
					yaml.WithPath(pb.Root().Child("profiles").Child(name).Child("extends").Build()),
				)
			}
		}

		for i, r := range p.Rules {
			uIdx := uint(i) //nolint:gosec // G115: integer overflow conversion int -> uint.

			err := c.validateRule(env, r)
			if err != nil {
				return yaml.NewError(
					err,
					yaml.WithPath(pb.Root().
						Child("profiles").
						Child(name).
						Child("rules").
						Index(uIdx).
						Build()),
				)
			}
		}
	}

	if err := c.validateChains(); err != nil {
		return err
	}

	for i, cg := range c.Conditional {
		uIdx := uint(i) //nolint:gosec // G115: integer overflow conversion int -> uint.

		if cg.When == "" {
			return yaml.NewError(
				fmt.Errorf("conditional group %d: missing condition", i),
				yaml.WithPath(pb.Root().Child("conditional").Index(uIdx).Child("when").Build()),
			)
		}

		if _, err := env.Compile(cg.When); err != nil {
			return yaml.NewError(
				fmt.Errorf("invalid condition: %w", err),
				yaml.WithPath(pb.Root().Child("conditional").Index(uIdx).Child("when").Build()),
			)
		}

		for j, r := range cg.Rules {
			uJdx := uint(j) //nolint:gosec // G115: integer overflow conversion int -> uint.

			err := c.validateRule(env, r)
			if err != nil {
				return yaml.NewError(
					err,
					yaml.WithPath(pb.Root().
						Child("conditional").
						Index(uIdx).
						Child("rules").
						Index(uJdx).
						Build()),
				)
			}
		}
	}

	return nil
}

func (c *Config) validateRule(env *expr.Environment, r *rule.Rule) error {
	if r == nil {
		return fmt.Errorf("%w: empty rule", rule.ErrInvalidRule)
	}

	if err := r.Validate(); err != nil {
		return err
	}

	if err := r.CompileWhen(env); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}

	if r.Kind == rule.KindStripBlocks {
		if _, ok := c.Markers[r.Marker]; !ok {
			return fmt.Errorf("rule %q: unknown marker %q", r.ID, r.Marker)
		}
	}

	return nil
}

// validateChains rejects cyclic extends chains at load time.
func (c *Config) validateChains() error {
	for name := range c.Profiles {
		if _, err := c.Chain(name); err != nil {
			return err
		}
	}

	return nil
}

func (c Config) JSONSchemaExtend(jss *jsonschema.Schema) {
	apiVersion, ok := jss.Properties.Get("apiVersion")
	if !ok {
		panic("apiVersion property not found in schema")
	}

	for _, version := range ValidAPIVersions {
		apiVersion.OneOf = append(apiVersion.OneOf, &jsonschema.Schema{
			Type:  "string",
			Const: version,
			Title: "API Version",
		})
	}

	_, _ = jss.Properties.Set("apiVersion", apiVersion)

	kind, ok := jss.Properties.Get("kind")
	if !ok {
		panic("kind property not found in schema")
	}

	for _, kindValue := range ValidKinds {
		kind.OneOf = append(kind.OneOf, &jsonschema.Schema{
			Type:  "string",
			Const: kindValue,
			Title: "Kind",
		})
	}

	_, _ = jss.Properties.Set("kind", kind)
}

func (c *Config) MarshalYAML() ([]byte, error) {
	data, err := yaml.Marshal(*c)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}

	return data, nil
}

type ConfigValidator interface {
	Validate(data any) error
}

type ConfigLoader struct {
	cv        ConfigValidator
	yamlError *yaml.ErrorWrapper
	data      []byte
}

func NewConfigLoaderFromBytes(data []byte, opts ...ConfigLoaderOpt) *ConfigLoader {
	cl := &ConfigLoader{
		cv:   DefaultValidator,
		data: data,
	}
	for _, opt := range opts {
		opt(cl)
	}

	cl.yamlError = yaml.NewErrorWrapper(
		yaml.WithSource(cl.data),
	)

	return cl
}

func NewConfigLoaderFromFile(path string, opts ...ConfigLoaderOpt) (*ConfigLoader, error) {
	data, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cl := NewConfigLoaderFromBytes(data, opts...)

	return cl, nil
}

type ConfigLoaderOpt func(*ConfigLoader)

func WithConfigValidator(cv ConfigValidator) ConfigLoaderOpt {
	return func(cl *ConfigLoader) {
		cl.cv = cv
	}
}

// Validate validates configuration data with [ConfigValidator] without
// loading it into a [Config] struct.
func (cl *ConfigLoader) Validate() error {
	// Decode into interface{} for initial validation.
	var anyConfig any

	dec := yaml.NewDecoder(bytes.NewReader(cl.data))
	err := dec.Decode(&anyConfig)
	if err != nil {
		return cl.yamlError.Wrap(err)
	}

	err = cl.cv.Validate(anyConfig)
	if err != nil {
		return cl.yamlError.Wrap(err)
	}

	return nil
}

func (cl *ConfigLoader) Load() (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(cl.data))
	err := dec.Decode(c)
	if err != nil {
		return nil, cl.yamlError.Wrap(err)
	}

	c.EnsureDefaults()

	// Run Go validation on the config (for requirements that can't be
	// represented in the schema).
	err = c.Validate()
	if err != nil {
		return nil, cl.yamlError.Wrap(err)
	}

	return c, nil
}

// WriteDefaultConfig writes the embedded default config.yaml and jsonschema
// to the specified path.
func WriteDefaultConfig(path string, force bool) error {
	configExists := false
	pathInfo, err := os.Stat(path)
	if pathInfo != nil {
		switch {
		case err == nil && pathInfo.Mode().IsRegular():
			configExists = true
		case pathInfo.IsDir():
			return fmt.Errorf("%s: path is a directory", path)
		default:
			return fmt.Errorf("%s: unknown file state", path)
		}
	}

	err = os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	if configExists && !force {
		slog.Debug("configuration file already exists, skipping write",
			slog.String("path", path),
		)

		return nil
	}

	slog.Info("write default configuration",
		slog.String("path", path),
	)

	err = os.WriteFile(path, defaultConfigYAML, 0o600)
	if err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	// Write the JSON schema file alongside the config file.
	schemaPath := filepath.Join(filepath.Dir(path), "config.v1beta1.json")

	err = os.WriteFile(schemaPath, schemaJSON, 0o600)
	if err != nil {
		return fmt.Errorf("write schema file: %w", err)
	}

	return nil
}

// GetPath returns the active configuration path for the given project root.
// A project-local file wins over the user-level XDG config.
func GetPath(root string) string {
	local := filepath.Join(root, DefaultFileName)
	if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
		return local
	}

	if xdgHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgHome != "" {
		return filepath.Join(xdgHome, "devtmpl", "config.yaml")
	}

	usrHome, err := os.UserHomeDir()
	if err == nil && usrHome != "" {
		return filepath.Join(usrHome, ".config", "devtmpl", "config.yaml")
	}

	tmpConfig := filepath.Join(os.TempDir(), "devtmpl", "config.yaml")

	slog.Warn("could not determine user config directory, using temp path for config",
		slog.String("path", tmpConfig),
		slog.Any("error", fmt.Errorf("$XDG_CONFIG_HOME is unset, fall back to home directory: %w", err)),
	)

	return tmpConfig
}

func readConfig(path string) ([]byte, error) {
	pathInfo, err := os.Stat(path)
	if pathInfo != nil {
		if err == nil && pathInfo.IsDir() {
			return nil, fmt.Errorf("%s: path is a directory", path)
		}
		if err == nil && !pathInfo.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: unknown file state", path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}
