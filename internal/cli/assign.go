package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/study"
)

type assignment struct {
	Study     string  `json:"study"`
	ClientID  string  `json:"clientId"`
	Variation string  `json:"variation"`
	Fraction  float64 `json:"fraction"`
	Enrolled  bool    `json:"enrolled"`
}

func buildAssignCmd() *cobra.Command {
	var (
		studyPath  string
		clientID   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Print the deterministic variation of a client",
		Long: `Compute the variation a client id is assigned to, and whether a first
run of that client passes the enrollment percentage. No state is read or
written.`,
		Example: `  shield-study assign --study study.yaml --client-id 8a1f...`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssign(cmd.OutOrStdout(), studyPath, clientID, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&studyPath, "study", "s", "", "Path to the JSON or YAML study file")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Telemetry client id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the assignment as JSON")
	_ = cmd.MarkFlagRequired("study")
	_ = cmd.MarkFlagRequired("client-id")

	return cmd
}

func runAssign(out io.Writer, studyPath, clientID string, jsonOutput bool) error {
	raw, err := config.LoadStudyFile(studyPath)
	if err != nil {
		return err
	}
	cfg, err := study.ParseConfig(raw)
	if err != nil {
		return err
	}

	variation, fraction, err := study.AssignVariation(&cfg, clientID)
	if err != nil {
		return err
	}

	a := assignment{
		Study:     cfg.ActiveExperimentName,
		ClientID:  clientID,
		Variation: variation.Name,
		Fraction:  fraction,
		Enrolled:  cfg.AllowEnroll && study.InEnrollment(&cfg, clientID),
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(a)
	}
	fmt.Fprintf(out, "study:     %s\nvariation: %s\nfraction:  %.6f\nenrolled:  %t\n",
		a.Study, a.Variation, a.Fraction, a.Enrolled)
	return nil
}
