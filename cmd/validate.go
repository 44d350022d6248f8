package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/validate"
)

var strict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the slipway manifest",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolveConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	result := &validate.ValidationResult{}

	schemaErrs, err := validate.ValidateManifestYAML(data)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	result.Errors = append(result.Errors, schemaErrs...)

	// Semantic checks only make sense on a manifest that parses.
	if len(result.Errors) == 0 {
		m, err := config.ParseManifest(data)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			semantic := validate.ValidateManifest(m)
			result.Errors = append(result.Errors, semantic.Errors...)
			result.Warnings = append(result.Warnings, semantic.Warnings...)
		}
	}

	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	if !result.IsValid() {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	if strict && len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed in strict mode: %d warning(s)", len(result.Warnings))
	}

	fmt.Printf("%s is valid\n", cfgPath)
	return nil
}
