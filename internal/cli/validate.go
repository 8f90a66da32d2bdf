package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
)

// errInvalidStudy is returned after the validation errors were printed.
var errInvalidStudy = errors.New("study file is invalid")

func buildValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <study-file>",
		Short: "Validate a study definition against the study-setup schema",
		Example: `  shield-study validate study.yaml
  shield-study validate study.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the validation result as JSON")

	return cmd
}

func runValidate(out io.Writer, path string, jsonOutput bool) error {
	raw, err := config.LoadStudyFile(path)
	if err != nil {
		return err
	}

	validator, err := schema.New()
	if err != nil {
		return err
	}
	defer validator.Close()

	res, err := validator.ValidateNamed(json.RawMessage(raw), schema.StudySetup)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Valid {
		fmt.Fprintf(out, "%s: valid\n", path)
	} else {
		fmt.Fprintf(out, "%s: %d error(s)\n", path, len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}

	if !res.Valid {
		return errInvalidStudy
	}
	return nil
}
