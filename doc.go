// Package localml evaluates downloaded decision-tree models, ensembles and
// clusters locally, without a round trip to the remote prediction API.
//
// A model description is the JSON document returned by the remote service for
// a "model/…" resource: a field catalog plus a flat array of tree nodes. An
// ensemble bundles several model descriptions; a cluster carries centroids and
// per-field scales. All three load into immutable values that are safe to
// share between goroutines.
//
// # Features
//
//   - Tree descent with two missing-value strategies (last prediction, proportional)
//   - Ensemble vote combination: plurality, confidence, probability and threshold
//   - Nearest-centroid assignment with scaled distances
//   - Ordered, parallel batch evaluation with optional row caching
//   - Structured errors (cockroachdb/errors) and structured logging (zerolog, slog)
//
// # Installation
//
//	go get github.com/YuminosukeSato/localml
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/localml/model"
//	    "github.com/YuminosukeSato/localml/tree"
//	)
//
//	func main() {
//	    m, err := model.LoadFile("iris.json")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    p, err := m.Predict(map[string]any{"petal length": 4.9, "petal width": 1.6}, true, tree.LastPrediction)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(p.Value, p.Confidence)
//	}
//
// # Packages
//
//   - fields: Field catalog, name translation and value normalization
//   - tree: Tree arena, descent and leaf merging
//   - model: Single downloaded model
//   - vote: Vote combination
//   - ensemble: Ensembles and multi-models
//   - cluster: Centroid assignment
//   - batch: Parallel, ordered evaluation of many rows
//   - core: Row and record types shared by all predictors
//   - core/parallel: Parallel processing utilities
//   - pkg/errors, pkg/log: Error types and logging
//
// The localpredict command (cmd/localpredict) wraps these packages for CSV and
// JSON files.
package localml
