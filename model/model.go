// Package model is the smallest complete local model: one decision tree and
// the field catalog it was trained with.
package model

import (
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
	"github.com/YuminosukeSato/localml/tree"
)

// Description is the downloaded JSON form of a single model.
type Description struct {
	Resource  string           `json:"resource"`
	Name      string           `json:"name,omitempty"`
	Fields    fields.Schema    `json:"fields,omitempty"`
	Objective string           `json:"objective_field,omitempty"`
	Tree      tree.Description `json:"tree"`
}

// Prediction is the public result of evaluating one row.
type Prediction struct {
	Value        any           `json:"prediction"`
	Confidence   float64       `json:"confidence"`
	Error        float64       `json:"error,omitempty"`
	Count        int           `json:"count"`
	Distribution []core.Bucket `json:"distribution,omitempty"`
}

// Model evaluates rows against one tree. It is immutable and safe for
// concurrent use.
type Model struct {
	id      string
	name    string
	catalog *fields.Catalog
	tree    *tree.Tree
	logger  log.Logger
}

// Option configures a Model.
type Option func(*config)

type config struct {
	catalog *fields.Catalog
	logger  log.Logger
}

// WithCatalog supplies the catalog to use when the description carries no fields.
func WithCatalog(c *fields.Catalog) Option {
	return func(cfg *config) { cfg.catalog = c }
}

// WithLogger sets the logger. The package default is used otherwise.
func WithLogger(l log.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// New validates desc and builds the model. Structural problems in the tree
// are returned as a MalformedTreeError.
func New(desc Description, opts ...Option) (*Model, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}

	catalog := cfg.catalog
	if len(desc.Fields) > 0 || catalog == nil {
		var err error
		if catalog, err = fields.NewCatalogFromSchema(desc.Fields); err != nil {
			return nil, errors.Wrapf(err, "load model %s", desc.Resource)
		}
	}

	td := desc.Tree
	if td.Objective == "" {
		td.Objective = desc.Objective
	}
	t, err := tree.Build(td, catalog)
	if err != nil {
		return nil, errors.Wrapf(err, "load model %s", desc.Resource)
	}

	m := &Model{
		id:      desc.Resource,
		name:    desc.Name,
		catalog: catalog,
		tree:    t,
		logger:  cfg.logger.With(log.ModelIDKey, desc.Resource, log.ModelKindKey, "model"),
	}
	m.logger.Debug("model loaded",
		log.OperationKey, log.OperationLoad,
		log.NodesKey, t.Len(),
		log.FieldsKey, catalog.Len(),
	)
	return m, nil
}

// Load decodes a JSON description from r and builds the model.
func Load(r io.Reader, opts ...Option) (*Model, error) {
	var desc Description
	if err := json.NewDecoder(r).Decode(&desc); err != nil {
		return nil, errors.Wrap(err, "decode model description")
	}
	return New(desc, opts...)
}

// LoadFile is Load on the named file.
func LoadFile(path string, opts ...Option) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open model file %s", path)
	}
	defer f.Close()
	return Load(f, opts...)
}

func (m *Model) ID() string { return m.id }
func (m *Model) Name() string { return m.name }
func (m *Model) Catalog() *fields.Catalog { return m.catalog }
func (m *Model) Tree() *tree.Tree { return m.tree }
func (m *Model) Regression() bool { return m.tree.Regression() }

// Predict evaluates a caller row. With byName set the row is keyed by field
// name, otherwise by field id. It fails with InvalidInputError when no usable
// value remains and the tree needs one.
func (m *Model) Predict(row core.Row, byName bool, strategy tree.MissingStrategy) (Prediction, error) {
	input, _ := m.catalog.Translate(row, byName)
	return m.Evaluate(input, strategy)
}

// Evaluate is Predict for a row already translated by this model's catalog.
func (m *Model) Evaluate(input core.Row, strategy tree.MissingStrategy) (Prediction, error) {
	if len(input) == 0 && m.tree.RootIsSplit() {
		return Prediction{}, errors.NewInvalidInputError("model.predict", "no usable input fields")
	}
	leaf := m.tree.Evaluate(input, strategy)
	return Prediction{
		Value:        leaf.Output,
		Confidence:   leaf.Confidence,
		Error:        leaf.Error,
		Count:        leaf.Count,
		Distribution: slices.Clone(leaf.Distribution),
	}, nil
}

// RowPredictor adapts the model for the batch driver.
func (m *Model) RowPredictor(byName bool, strategy tree.MissingStrategy) core.RowPredictor {
	return core.RowPredictorFunc(func(row core.Row) (core.Record, error) {
		p, err := m.Predict(row, byName, strategy)
		if err != nil {
			return core.Record{}, err
		}
		return core.Record{
			Prediction:   p.Value,
			Confidence:   p.Confidence,
			Distribution: p.Distribution,
		}, nil
	})
}
