// Command schemagen regenerates the embedded configuration JSON schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/yaml"
)

func main() {
	outFile := pflag.StringP("out-file", "o", "pkg/config/config.v1beta1.json", "Output file for the generated schema")
	pflag.Parse()

	gen := yaml.NewSchemaGenerator(config.NewConfig(),
		"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config",
		"github.com/XylarDark/DevEnvTemplate-sub002/pkg/profile",
		"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule",
		"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern",
	)

	jsData, err := gen.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate JSON schema: %v\n", err)
		os.Exit(1)
	}

	err = os.WriteFile(*outFile, jsData, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write schema file: %v\n", err)
		os.Exit(1)
	}
}
