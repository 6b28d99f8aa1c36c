package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/YuminosukeSato/localml/cluster"
	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/ensemble"
	"github.com/YuminosukeSato/localml/model"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
	"github.com/YuminosukeSato/localml/tree"
	"github.com/YuminosukeSato/localml/vote"
)

// resourceKind is the prefix of a resource id, e.g. "ensemble" in
// "ensemble/52df49b60c0b5e589b00014b".
type resourceKind string

const (
	kindModel    resourceKind = "model"
	kindEnsemble resourceKind = "ensemble"
	kindCluster  resourceKind = "cluster"
)

// detectKind reads the "resource" id of a downloaded description.
func detectKind(data []byte) (resourceKind, string, error) {
	var header struct {
		Resource string `json:"resource"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", "", errors.Wrap(err, "decode resource header")
	}
	prefix, _, _ := strings.Cut(header.Resource, "/")
	switch kind := resourceKind(prefix); kind {
	case kindModel, kindEnsemble, kindCluster:
		return kind, header.Resource, nil
	default:
		return "", header.Resource, errors.NewValidationError("resource", "unsupported resource kind", header.Resource)
	}
}

// predictorSettings are the evaluation choices resolved from the configuration.
type predictorSettings struct {
	byName   bool
	strategy tree.MissingStrategy
	method   vote.Method
	voteOpts []vote.Option
}

func newPredictorSettings(cfg Config) (predictorSettings, error) {
	strategy, err := tree.ParseMissingStrategy(cfg.MissingStrategy)
	if err != nil {
		return predictorSettings{}, err
	}
	method, err := vote.ParseMethod(cfg.Method)
	if err != nil {
		return predictorSettings{}, err
	}
	s := predictorSettings{byName: cfg.ByName, strategy: strategy, method: method}
	if method == vote.Threshold {
		s.voteOpts = append(s.voteOpts, vote.WithThreshold(cfg.Threshold.Class, cfg.Threshold.K))
	}
	if cfg.Median {
		s.voteOpts = append(s.voteOpts, vote.WithMedian())
	}
	return s, nil
}

// loadPredictor loads the description at path and returns the row predictor
// for its kind.
func loadPredictor(path string, s predictorSettings, logger log.Logger) (core.RowPredictor, resourceKind, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read resource %s", path)
	}
	kind, id, err := detectKind(data)
	if err != nil {
		return nil, "", errors.Wrapf(err, "resource %s", path)
	}
	logger = logger.With(log.ModelIDKey, id, log.ModelKindKey, string(kind))

	switch kind {
	case kindModel:
		m, err := model.Load(bytes.NewReader(data), model.WithLogger(logger))
		if err != nil {
			return nil, kind, err
		}
		return m.RowPredictor(s.byName, s.strategy), kind, nil
	case kindEnsemble:
		e, err := ensemble.Load(bytes.NewReader(data), ensemble.WithLogger(logger))
		if err != nil {
			return nil, kind, err
		}
		logger.Info("ensemble ready", log.MembersKey, e.Len(), log.MethodKey, s.method.String())
		return e.RowPredictor(s.byName, s.strategy, s.method, s.voteOpts...), kind, nil
	default:
		c, err := cluster.Load(bytes.NewReader(data), cluster.WithLogger(logger))
		if err != nil {
			return nil, kind, err
		}
		return c.RowPredictor(s.byName), kind, nil
	}
}
