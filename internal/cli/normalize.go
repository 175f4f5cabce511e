package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

type normalizeFlags struct {
	strict bool
	extras bool
}

func newNormalizeCommand(app *App) *cobra.Command {
	flags := &normalizeFlags{}

	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Normalize a captured AI response",
		Long: `Run the suggestion normalizer over a captured AI response and print the
resulting suggestions together with any dropped items.

Files ending in .yaml or .yml are read as YAML, anything else as JSON.

Examples:
  rxctl normalize response.json
  rxctl normalize response.json -o yaml --extras
  rxctl normalize response.json --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(app, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.strict, "strict", false, "fail when any item is dropped")
	cmd.Flags().BoolVar(&flags.extras, "extras", false, "include display-only sections in text output")
	return cmd
}

func runNormalize(app *App, path string, flags *normalizeFlags) error {
	data, err := afero.ReadFile(app.FS, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	res, err := normalizeFile(path, data)
	if err != nil {
		return err
	}
	app.Logger.Debug("normalized response")

	if err := app.render(res, func(w io.Writer) error {
		return writeResultText(w, res, flags.extras)
	}); err != nil {
		return err
	}

	if flags.strict && len(res.Dropped) > 0 {
		return fmt.Errorf("%d item(s) dropped", len(res.Dropped))
	}
	return nil
}

func normalizeFile(path string, data []byte) (*suggestion.Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return suggestion.Normalize(raw)
	default:
		return suggestion.NormalizeJSON(data)
	}
}

func writeResultText(w io.Writer, res *suggestion.Result, extras bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tNAME\tDOSAGE\tQUANTITY\tINSTRUCTIONS\tWARNING\n")
	for _, s := range res.Suggestions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			s.SourceIndex, s.Name, s.DosageLabel, s.Quantity, s.UsageInstructions, s.Warning)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d suggestion(s) from %q", len(res.Suggestions), res.Location)
	if len(res.Dropped) > 0 {
		fmt.Fprintf(w, ", %d dropped:\n", len(res.Dropped))
		for _, d := range res.Dropped {
			fmt.Fprintf(w, "  item %d: %s: %s\n", d.Index, d.Field, d.Message)
		}
	} else {
		fmt.Fprintln(w)
	}

	if !extras {
		return nil
	}
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, l := range lines {
			fmt.Fprintf(w, "  - %s\n", l)
		}
	}
	section("Technical summary", res.Extras.TechnicalSummary)
	section("Patient guidance", res.Extras.PatientGuidance)
	section("Safety alerts", res.Extras.SafetyAlerts)
	section("Monitoring", res.Extras.Monitoring)
	if len(res.Extras.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range res.Extras.Sources {
			fmt.Fprintf(w, "  - %s\n", s.Title)
		}
	}
	if res.Extras.ConfidenceScore != nil {
		fmt.Fprintf(w, "\nConfidence: %.2f\n", *res.Extras.ConfidenceScore)
	}
	return nil
}
