package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/errors"
)

// CropStatus is the resolution outcome of one crop: exactly one of Model and Err is set.
type CropStatus struct {
	Crop     conf.CropConfig
	Model    *LoadedModel
	Err      *LoadError
	Attempts []Attempt
}

// Loaded reports whether a model is bound
func (s *CropStatus) Loaded() bool {
	return s.Model != nil
}

// Snapshot is the read-only result of Registry.Resolve, safe for concurrent use.
type Snapshot struct {
	order      []string
	byCrop     map[string]*CropStatus
	resolvedAt time.Time
}

// NewSnapshot assembles a snapshot from crop statuses in the given order.
func NewSnapshot(statuses ...*CropStatus) *Snapshot {
	s := &Snapshot{
		byCrop:     make(map[string]*CropStatus, len(statuses)),
		resolvedAt: time.Now(),
	}
	for _, st := range statuses {
		if st == nil {
			continue
		}
		s.order = append(s.order, st.Crop.Name)
		s.byCrop[st.Crop.Name] = st
	}
	return s
}

// Lookup returns the model of crop. Unknown crops fail with a not-found category,
// unavailable crops with a model-loading category naming the last load error.
func (s *Snapshot) Lookup(crop string) (*LoadedModel, error) {
	st, ok := s.byCrop[crop]
	if !ok {
		return nil, errors.New(fmt.Errorf("%w: %s", ErrUnknownCrop, crop)).
			Component("model").
			Category(errors.CategoryNotFound).
			Context("crop", crop).
			Context("supported_crops", s.Crops()).
			Build()
	}
	if st.Model == nil {
		return nil, errors.New(fmt.Errorf("%w for crop %s: %w", ErrModelUnavailable, crop, st.Err)).
			Component("model").
			Category(errors.CategoryModelLoad).
			Context("crop", crop).
			Build()
	}
	return st.Model, nil
}

// Status returns the resolution outcome of crop
func (s *Snapshot) Status(crop string) (*CropStatus, bool) {
	st, ok := s.byCrop[crop]
	return st, ok
}

// Statuses returns every crop status in configuration order
func (s *Snapshot) Statuses() []*CropStatus {
	out := make([]*CropStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byCrop[name])
	}
	return out
}

// Crops returns all configured crop names
func (s *Snapshot) Crops() []string {
	return slices.Clone(s.order)
}

// Loaded returns crops with a bound model
func (s *Snapshot) Loaded() []string {
	return s.filter(true)
}

// Unavailable returns crops without a model
func (s *Snapshot) Unavailable() []string {
	return s.filter(false)
}

func (s *Snapshot) filter(loaded bool) []string {
	out := []string{}
	for _, name := range s.order {
		if s.byCrop[name].Loaded() == loaded {
			out = append(out, name)
		}
	}
	return out
}

// ResolvedAt is when the snapshot was built
func (s *Snapshot) ResolvedAt() time.Time {
	return s.resolvedAt
}

// Close releases every loaded model
func (s *Snapshot) Close() error {
	var errs []error
	for _, st := range s.byCrop {
		if st.Model != nil {
			if err := st.Model.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s model: %w", st.Crop.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
