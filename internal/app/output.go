package app

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	v1 "github.com/agrisol/cropdoctor/internal/api/v1"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
)

// Output formats accepted by the CLI
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// CheckFormat validates an --output value
func CheckFormat(format string) error {
	if format == FormatTable || format == FormatJSON {
		return nil
	}
	return errors.Newf("unsupported output format %q, use %s or %s", format, FormatTable, FormatJSON).
		Component("app").
		Category(errors.CategoryValidation).
		Build()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResult prints a diagnosis in the given format. top limits the listed class scores.
func WriteResult(w io.Writer, format string, r *diagnosis.Result, top int) error {
	if format == FormatJSON {
		return WriteJSON(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Crop:\t%s\n", r.CropType)
	fmt.Fprintf(tw, "Disease:\t%s\n", r.PredictedClass)
	fmt.Fprintf(tw, "Confidence:\t%.1f%%\n", r.ConfidencePercentage)
	fmt.Fprintf(tw, "Severity:\t%s\n", r.Severity)
	fmt.Fprintf(tw, "Urgency:\t%s\n", r.TreatmentUrgency)
	fmt.Fprintf(tw, "Recovery:\t%s\n", r.EstimatedRecovery)
	fmt.Fprintf(tw, "Model:\t%s\n", r.ModelInfo.SourcePath)
	fmt.Fprintf(tw, "Time:\t%.3fs\n", r.ProcessingTime)
	if r.Cached {
		fmt.Fprintf(tw, "Cached:\tyes\n")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}

	scores := rankScores(r.AllPredictions)
	if top > 0 && len(scores) > top {
		scores = scores[:top]
	}
	if len(scores) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nScores:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range scores {
		fmt.Fprintf(tw, "  %s\t%.2f%%\n", s.label, s.value*100)
	}
	return tw.Flush()
}

type rankedScore struct {
	label string
	value float64
}

func rankScores(all map[string]float64) []rankedScore {
	scores := make([]rankedScore, 0, len(all))
	for label, v := range all {
		scores = append(scores, rankedScore{label, v})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].value != scores[j].value {
			return scores[i].value > scores[j].value
		}
		return scores[i].label < scores[j].label
	})
	return scores
}

// WriteModels prints a models listing in the given format
func WriteModels(w io.Writer, format string, resp *v1.ModelsResponse) error {
	if format == FormatJSON {
		return WriteJSON(w, resp)
	}

	crops := slices.Clone(resp.Crops)
	if len(crops) == 0 {
		for name := range resp.Models {
			crops = append(crops, name)
		}
		sort.Strings(crops)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CROP\tSTATUS\tCLASSES\tMODEL\tDETAIL")
	for _, name := range crops {
		st, ok := resp.Models[name]
		if !ok {
			continue
		}
		status, modelPath, detail := "unavailable", "-", ""
		if st.Loaded {
			status = "loaded"
			if st.ModelInfo != nil {
				modelPath = st.ModelInfo.SourcePath
				detail = st.ModelInfo.Backend
				if st.ModelInfo.ClassMismatch {
					detail += ", class mismatch"
				}
			}
		} else if st.LoadError != nil {
			detail = *st.LoadError
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", name, status, len(st.Classes), modelPath, strings.TrimSpace(detail))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, name := range crops {
		st := resp.Models[name]
		if st.Loaded || len(st.Attempts) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s attempts:\n", name)
		for _, a := range st.Attempts {
			fmt.Fprintf(w, "  %d. %s: %s\n", a.Rank, a.Path, a.Error)
		}
	}

	_, err := fmt.Fprintf(w, "\n%d of %d models loaded\n", resp.LoadedModels, resp.TotalModels)
	return err
}
