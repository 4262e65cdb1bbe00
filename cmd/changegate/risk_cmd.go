package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
	"github.com/Mindburn-Labs/changegate/pkg/risk"
)

func newRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Validate risk catalogs and score answers offline",
	}
	cmd.AddCommand(newRiskValidateCmd(), newRiskScoreCmd())
	return cmd
}

func newRiskValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Check a risk catalog file against the schema and threshold rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := risk.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			questions, thresholds := c.Snapshot()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "OK: %d questions, %d thresholds, max score %d\n",
				len(questions), len(thresholds), risk.MaxScore(questions))
			return nil
		},
	}
}

func newRiskScoreCmd() *cobra.Command {
	var (
		catalogPath string
		answers     []string
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a set of answers, e.g. --answer q1=c --answer q2=4",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := risk.DefaultCatalog()
			if catalogPath != "" {
				var err error
				if c, err = risk.LoadCatalogFile(catalogPath); err != nil {
					return err
				}
			}
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			a, err := c.Assess(parsed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "score: %.1f\nlevel: %s\n", a.Score, a.Level)
			if len(a.Missing) > 0 {
				_, _ = fmt.Fprintf(out, "missing required: %s\n", strings.Join(a.Missing, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "risk catalog YAML (default: built-in catalog)")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "question=option or question=value, repeatable")
	return cmd
}

// parseAnswers reads question=option pairs. A numeric right-hand side is
// taken as a raw value.
func parseAnswers(raw []string) ([]contracts.AssessmentAnswer, error) {
	out := make([]contracts.AssessmentAnswer, 0, len(raw))
	for _, r := range raw {
		q, v, ok := strings.Cut(r, "=")
		q, v = strings.TrimSpace(q), strings.TrimSpace(v)
		if !ok || q == "" || v == "" {
			return nil, fmt.Errorf("invalid --answer %q, want question=option", r)
		}
		a := contracts.AssessmentAnswer{QuestionID: q}
		if n, err := strconv.Atoi(v); err == nil {
			a.Value = &n
		} else {
			a.OptionID = v
		}
		out = append(out, a)
	}
	return out, nil
}
