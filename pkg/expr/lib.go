package expr

import (
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Strings(),
		ext.Lists(),

		// `flags` contains the feature flags of the target project, keyed
		// by feature name. Names that are not present evaluate to false,
		// so conditions never fail on unknown flags.
		// Example: flags.docker && !flags.ci.
		cel.Variable("flags", cel.MapType(cel.StringType, cel.BoolType)),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return nil
}

// FlagMap adapts a feature flag set into a CEL map value. Unlike a plain
// map, lookups of unknown flag names yield false instead of an error.
type FlagMap struct {
	flags map[string]bool
}

var (
	_ ref.Val       = FlagMap{}
	_ traits.Mapper = FlagMap{}
)

func NewFlagMap(flags map[string]bool) FlagMap {
	if flags == nil {
		flags = map[string]bool{}
	}

	return FlagMap{flags: flags}
}

func (m FlagMap) ConvertToNative(typeDesc reflect.Type) (any, error) {
	return types.NewStringInterfaceMap(types.DefaultTypeAdapter, m.asAnyMap()).
		ConvertToNative(typeDesc)
}

//nolint:ireturn // Following CEL's interface.
func (m FlagMap) ConvertToType(typeVal ref.Type) ref.Val {
	switch typeVal {
	case types.MapType:
		return m
	case types.TypeType:
		return types.MapType
	}

	return types.NewErr("type conversion error from map to %s", typeVal)
}

//nolint:ireturn // Following CEL's interface.
func (m FlagMap) Equal(other ref.Val) ref.Val {
	return types.NewStringInterfaceMap(types.DefaultTypeAdapter, m.asAnyMap()).Equal(other)
}

//nolint:ireturn // Following CEL's interface.
func (m FlagMap) Type() ref.Type {
	return types.MapType
}

func (m FlagMap) Value() any {
	return m.flags
}

//nolint:ireturn // Following CEL's interface.
func (m FlagMap) Contains(value ref.Val) ref.Val {
	name, ok := value.(types.String)
	if !ok {
		return types.False
	}

	_, found := m.flags[string(name)]

	return types.Bool(found)
}

// Get resolves one flag by name. Unknown names are false, not errors.
//
//nolint:ireturn // Following CEL's interface.
func (m FlagMap) Get(index ref.Val) ref.Val {
	name, ok := index.(types.String)
	if !ok {
		return types.ValOrErr(index, "no such key: %v", index)
	}

	return types.Bool(m.flags[string(name)])
}

// Find implements the mapper lookup used by field selection.
func (m FlagMap) Find(key ref.Val) (ref.Val, bool) {
	name, ok := key.(types.String)
	if !ok {
		return nil, false
	}

	// Report every string key as present so that selection on unknown
	// flag names yields false.
	return types.Bool(m.flags[string(name)]), true
}

//nolint:ireturn // Following CEL's interface.
func (m FlagMap) Size() ref.Val {
	return types.Int(len(m.flags))
}

func (m FlagMap) Iterator() traits.Iterator {
	return types.NewStringInterfaceMap(types.DefaultTypeAdapter, m.asAnyMap()).Iterator()
}

func (m FlagMap) asAnyMap() map[string]any {
	out := make(map[string]any, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}

	return out
}
