package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// readRows decodes input rows. Files ending in .json hold an array of
// objects; anything else is CSV with a header line.
func readRows(r io.Reader, name string) ([]core.Row, error) {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return readJSONRows(r)
	}
	return readCSVRows(r)
}

func readCSVRows(r io.Reader) ([]core.Row, error) {
	records, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, errors.Wrap(err, "read CSV rows")
	}
	rows := make([]core.Row, len(records))
	for i, rec := range records {
		row := make(core.Row, len(rec))
		for k, v := range rec {
			row[k] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func readJSONRows(r io.Reader) ([]core.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read JSON rows")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []core.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "decode JSON rows")
	}
	return rows, nil
}
