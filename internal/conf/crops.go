package conf

import (
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CropConfig describes one supported crop: where its model may live and how its outputs are labeled.
type CropConfig struct {
	Name string `mapstructure:"name" json:"name"`
	// ModelPath is the primary candidate, Alternatives are tried in order after it
	ModelPath    string   `mapstructure:"modelpath" json:"model_path"`
	Alternatives []string `mapstructure:"alternatives" json:"alternatives,omitempty"`
	// Classes is ordered to match the model output layer
	Classes      []string `mapstructure:"classes" json:"classes"`
	TargetWidth  int      `mapstructure:"targetwidth" json:"target_width"`
	TargetHeight int      `mapstructure:"targetheight" json:"target_height"`
}

// Candidates returns the primary path followed by the alternatives, skipping blanks.
func (c *CropConfig) Candidates() []string {
	paths := make([]string, 0, 1+len(c.Alternatives))
	for _, p := range append([]string{c.ModelPath}, c.Alternatives...) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// DisplayName returns a title-cased crop name for UIs, e.g. "tomatoes" -> "Tomatoes".
func (c *CropConfig) DisplayName() string {
	return DisplayName(c.Name)
}

// dedupeClasses removes repeated labels, keeping the first occurrence. It returns the removed labels.
func (c *CropConfig) dedupeClasses() []string {
	seen := make(map[string]struct{}, len(c.Classes))
	kept := c.Classes[:0]
	var removed []string
	for _, label := range c.Classes {
		label = strings.TrimSpace(label)
		if _, dup := seen[label]; dup {
			removed = append(removed, label)
			continue
		}
		seen[label] = struct{}{}
		kept = append(kept, label)
	}
	c.Classes = slices.Clip(kept)
	return removed
}

// DisplayName title-cases an identifier such as a crop or disease key.
func DisplayName(name string) string {
	// a Caser keeps state, so one is created per call
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// normalizeExtension lower-cases ext and ensures a leading dot
func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// FileExtension returns the normalized extension of a file name
func FileExtension(name string) string {
	return normalizeExtension(filepath.Ext(name))
}
