package main

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

const (
	formatCSV  = "csv"
	formatJSON = "json"
)

type predictionRow struct {
	Index      int    `csv:"index"`
	Prediction string `csv:"prediction"`
	Confidence string `csv:"confidence"`
	Error      string `csv:"error"`
}

type assignmentRow struct {
	Index        int    `csv:"index"`
	CentroidID   string `csv:"centroid_id"`
	CentroidName string `csv:"centroid_name"`
	Distance     string `csv:"distance"`
	Error        string `csv:"error"`
}

// writeRecords writes records to w and returns how many rows failed.
func writeRecords(w io.Writer, format string, kind resourceKind, records iter.Seq[core.Record]) (int, error) {
	switch format {
	case formatJSON:
		return writeJSON(w, records)
	case formatCSV, "":
		if kind == kindCluster {
			return writeAssignmentCSV(w, records)
		}
		return writePredictionCSV(w, records)
	default:
		return 0, errors.NewValidationError("format", "must be csv or json", format)
	}
}

// writeJSON streams one JSON object per line.
func writeJSON(w io.Writer, records iter.Seq[core.Record]) (int, error) {
	enc := json.NewEncoder(w)
	failed := 0
	for rec := range records {
		if rec.Failed() {
			failed++
		}
		if err := enc.Encode(rec); err != nil {
			return failed, errors.Wrapf(err, "write record %d", rec.Index)
		}
	}
	return failed, nil
}

func writePredictionCSV(w io.Writer, records iter.Seq[core.Record]) (int, error) {
	var rows []*predictionRow
	failed := 0
	for rec := range records {
		row := &predictionRow{Index: rec.Index, Error: rec.ErrorMessage}
		if rec.Failed() {
			failed++
		} else {
			row.Prediction = formatValue(rec.Prediction)
			row.Confidence = formatFloat(rec.Confidence)
		}
		rows = append(rows, row)
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return failed, errors.Wrap(err, "write CSV predictions")
	}
	return failed, nil
}

func writeAssignmentCSV(w io.Writer, records iter.Seq[core.Record]) (int, error) {
	var rows []*assignmentRow
	failed := 0
	for rec := range records {
		row := &assignmentRow{Index: rec.Index, Error: rec.ErrorMessage}
		if rec.Failed() {
			failed++
		} else {
			row.CentroidID = rec.CentroidID
			row.CentroidName = rec.CentroidName
			if rec.Distance != nil {
				row.Distance = formatFloat(*rec.Distance)
			}
		}
		rows = append(rows, row)
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return failed, errors.Wrap(err, "write CSV assignments")
	}
	return failed, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return formatFloat(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
