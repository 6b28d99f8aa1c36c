// Package ensemble evaluates a set of decision trees for one row and combines
// their votes.
package ensemble

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/model"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
)

// Description is the downloaded JSON form of an ensemble. Members without
// fields of their own use the ensemble's.
type Description struct {
	Resource  string              `json:"resource"`
	Name      string              `json:"name,omitempty"`
	Fields    fields.Schema       `json:"fields,omitempty"`
	Objective string              `json:"objective_field,omitempty"`
	Boosted   bool                `json:"boosted,omitempty"`
	Weights   []float64           `json:"weights,omitempty"`
	Models    []model.Description `json:"models"`
}

// Ensemble holds its members in load order. It is immutable and safe for
// concurrent use.
type Ensemble struct {
	id         string
	name       string
	catalog    *fields.Catalog
	members    []*model.Model
	weights    []float64
	regression bool
	logger     log.Logger
}

// Option configures an Ensemble.
type Option func(*config)

type config struct {
	logger log.Logger
}

// WithLogger sets the logger. The package default is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}
	return cfg
}

// New builds every member. A member that fails validation fails the whole
// ensemble, so a malformed tree is never met at prediction time.
func New(desc Description, opts ...Option) (*Ensemble, error) {
	cfg := newConfig(opts)
	if len(desc.Models) == 0 {
		return nil, errors.NewValidationError("models", "ensemble has no members", desc.Resource)
	}

	var catalog *fields.Catalog
	if len(desc.Fields) > 0 {
		var err error
		if catalog, err = fields.NewCatalogFromSchema(desc.Fields); err != nil {
			return nil, errors.Wrapf(err, "load ensemble %s", desc.Resource)
		}
	}

	logger := cfg.logger.With(log.ModelIDKey, desc.Resource, log.ModelKindKey, "ensemble")
	members := make([]*model.Model, 0, len(desc.Models))
	for i, md := range desc.Models {
		if md.Objective == "" {
			md.Objective = desc.Objective
		}
		mopts := []model.Option{model.WithLogger(logger)}
		if catalog != nil {
			mopts = append(mopts, model.WithCatalog(catalog))
		}
		m, err := model.New(md, mopts...)
		if err != nil {
			return nil, errors.Wrapf(err, "load ensemble %s: member %d", desc.Resource, i)
		}
		if catalog == nil {
			catalog = m.Catalog()
		}
		members = append(members, m)
	}

	e, err := assemble(desc.Resource, desc.Name, members, desc.Weights, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("ensemble loaded",
		log.OperationKey, log.OperationLoad,
		log.MembersKey, len(members),
		"boosted", desc.Boosted,
	)
	return e, nil
}

// NewMultiModel combines independently built models as one ensemble. Members
// that do not share a catalog translate each row on their own.
func NewMultiModel(models []*model.Model, weights []float64, opts ...Option) (*Ensemble, error) {
	cfg := newConfig(opts)
	if len(models) == 0 {
		return nil, errors.NewValidationError("models", "multi-model has no members", 0)
	}
	logger := cfg.logger.With(log.ModelKindKey, "multimodel")
	return assemble("", "", models, weights, logger)
}

func assemble(id, name string, members []*model.Model, weights []float64, logger log.Logger) (*Ensemble, error) {
	if weights != nil && len(weights) != len(members) {
		return nil, errors.NewValidationError("weights", fmt.Sprintf("expected %d weights", len(members)), len(weights))
	}
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, errors.NewValidationError("weights", "weights must be non-negative numbers", w)
		}
	}

	catalog := members[0].Catalog()
	regression := members[0].Regression()
	for i, m := range members[1:] {
		if m.Regression() != regression {
			return nil, errors.NewValidationError("models", "members mix classification and regression", i+1)
		}
		if m.Catalog() != catalog {
			catalog = nil
		}
	}

	return &Ensemble{
		id:         id,
		name:       name,
		catalog:    catalog,
		members:    members,
		weights:    weights,
		regression: regression,
		logger:     logger,
	}, nil
}

// Load decodes a JSON description from r and builds the ensemble.
func Load(r io.Reader, opts ...Option) (*Ensemble, error) {
	var desc Description
	if err := json.NewDecoder(r).Decode(&desc); err != nil {
		return nil, errors.Wrap(err, "decode ensemble description")
	}
	return New(desc, opts...)
}

// LoadFile is Load on the named file.
func LoadFile(path string, opts ...Option) (*Ensemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open ensemble file %s", path)
	}
	defer f.Close()
	return Load(f, opts...)
}

func (e *Ensemble) ID() string { return e.id }

func (e *Ensemble) Name() string { return e.name }

// Len returns the number of members.
func (e *Ensemble) Len() int { return len(e.members) }

// Regression reports whether members predict numeric values.
func (e *Ensemble) Regression() bool { return e.regression }

// Catalog returns the catalog shared by all members, or nil when they differ.
func (e *Ensemble) Catalog() *fields.Catalog { return e.catalog }

func (e *Ensemble) weight(i int) float64 {
	if e.weights == nil {
		return 1
	}
	return e.weights[i]
}
