package config

import (
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/profile"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// Template-only conventions used by the project scaffolder.
const (
	DefaultMarkerName = "template-only"
	DefaultLineTag    = "@template-only"
)

func defaultMarkers() map[string]*rule.MarkerPair {
	return map[string]*rule.MarkerPair{
		DefaultMarkerName: {
			Start: "TEMPLATE-ONLY:START",
			End:   "TEMPLATE-ONLY:END",
		},
	}
}

func defaultProfiles() map[string]*profile.Profile {
	return map[string]*profile.Profile{
		"default": profile.MustNew(
			profile.WithDescription("Strip template-only scaffolding from a generated project."),
			profile.WithRules(
				rule.MustNew("strip-template-blocks", rule.KindStripBlocks,
					rule.WithDescription("Remove TEMPLATE-ONLY marker blocks."),
					rule.WithMarker(DefaultMarkerName),
					rule.WithPaths(pattern.MustNew("**/*").
						WithExclude(".git/**", "node_modules/**", ".venv/**")),
				),
				rule.MustNew("strip-template-lines", rule.KindStripLines,
					rule.WithDescription("Remove lines tagged @template-only."),
					rule.WithTag(DefaultLineTag),
					rule.WithPaths(pattern.MustNew("**/*").
						WithExclude(".git/**", "node_modules/**", ".venv/**")),
				),
				rule.MustNew("remove-template-docs", rule.KindDelete,
					rule.WithDescription("Delete template documentation stubs."),
					rule.WithPaths(pattern.MustNew("TEMPLATE*.md", "docs/template/**")),
				),
				rule.MustNew("prune-empty-artifacts", rule.KindPruneEmpty,
					rule.WithDescription("Remove files and directories emptied by earlier rules."),
					rule.WithEmpty(&rule.Empty{WhitespaceOnly: true}),
				),
			),
		),
		"minimal": profile.MustNew(
			profile.WithExtends("default"),
			profile.WithDescription("Default cleanup plus example removal."),
			profile.WithRules(
				rule.MustNew("remove-examples", rule.KindDelete,
					rule.WithDescription("Delete bundled example code."),
					rule.WithPaths(pattern.MustNew("examples/**")),
				),
			),
		),
	}
}
