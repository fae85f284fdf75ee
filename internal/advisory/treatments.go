package advisory

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agrisol/cropdoctor/internal/errors"
)

//go:embed treatments.yaml
var embeddedTreatments []byte

// Urgency is the disease-intrinsic response speed
type Urgency string

const (
	UrgencyNone   Urgency = "None"
	UrgencyLow    Urgency = "Low"
	UrgencyMedium Urgency = "Medium"
	UrgencyHigh   Urgency = "High"
)

// Valid reports whether u is a known urgency tier
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNone, UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Treatment is the static reference record for one disease label.
type Treatment struct {
	Disease    string   `yaml:"disease" json:"disease"`
	Urgency    Urgency  `yaml:"urgency" json:"urgency"`
	Recovery   string   `yaml:"recovery" json:"recovery"`
	Immediate  []string `yaml:"immediate" json:"immediate_actions"`
	Treatment  []string `yaml:"treatment" json:"treatment_options"`
	Prevention []string `yaml:"prevention" json:"prevention"`
	Organic    []string `yaml:"organic" json:"organic_alternatives"`
}

// Database is an immutable lookup of treatments by disease label.
type Database struct {
	byDisease map[string]Treatment
	order     []string
}

type treatmentFile struct {
	Treatments []Treatment `yaml:"treatments"`
}

// LoadDatabase parses treatment records from YAML.
func LoadDatabase(r io.Reader) (*Database, error) {
	var file treatmentFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.New(fmt.Errorf("parse treatment database: %w", err)).
			Component("advisory").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db := &Database{byDisease: make(map[string]Treatment, len(file.Treatments))}
	for i, t := range file.Treatments {
		switch {
		case t.Disease == "":
			return nil, invalidRecord(fmt.Errorf("record %d has no disease label", i+1))
		case !t.Urgency.Valid():
			return nil, invalidRecord(fmt.Errorf("disease %q has unknown urgency %q", t.Disease, t.Urgency))
		}
		if _, dup := db.byDisease[t.Disease]; dup {
			return nil, invalidRecord(fmt.Errorf("disease %q is listed twice", t.Disease))
		}
		db.byDisease[t.Disease] = t
		db.order = append(db.order, t.Disease)
	}

	return db, nil
}

func invalidRecord(err error) error {
	return errors.New(err).
		Component("advisory").
		Category(errors.CategoryValidation).
		Build()
}

var (
	defaultDB     *Database
	defaultDBErr  error
	defaultDBOnce sync.Once
)

// DefaultDatabase returns the built-in treatment database.
func DefaultDatabase() (*Database, error) {
	defaultDBOnce.Do(func() {
		defaultDB, defaultDBErr = LoadDatabase(bytes.NewReader(embeddedTreatments))
	})
	return defaultDB, defaultDBErr
}

// MustDefaultDatabase is DefaultDatabase for callers that cannot continue without it.
func MustDefaultDatabase() *Database {
	db, err := DefaultDatabase()
	if err != nil {
		panic(err)
	}
	return db
}

// Lookup returns the treatment for disease
func (db *Database) Lookup(disease string) (Treatment, bool) {
	t, ok := db.byDisease[disease]
	return t, ok
}

// Diseases lists the covered disease labels in file order
func (db *Database) Diseases() []string {
	return slices.Clone(db.order)
}

// Len returns the number of records
func (db *Database) Len() int {
	return len(db.order)
}
