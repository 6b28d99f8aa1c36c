package fields

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Catalog maps field ids to fields and names back to ids.
// It is read-only after construction and safe for concurrent use.
type Catalog struct {
	fields []Field
	byID   map[string]int
	byName map[string]string
}

// NewCatalog builds a catalog preserving the order of fs.
// A repeated id is an error. A repeated name keeps the first field for
// lookups by name and raises a DuplicateFieldNameWarning.
func NewCatalog(fs []Field) (*Catalog, error) {
	c := &Catalog{
		fields: make([]Field, 0, len(fs)),
		byID:   make(map[string]int, len(fs)),
		byName: make(map[string]string, len(fs)),
	}
	for _, f := range fs {
		if f.ID == "" {
			return nil, errors.NewValidationError("field.id", "field id must not be empty", f.Name)
		}
		if !f.OpType.Valid() {
			return nil, errors.NewValidationError("field.optype", "unknown optype for field "+f.ID, f.OpType)
		}
		if _, dup := c.byID[f.ID]; dup {
			return nil, errors.NewValidationError("field.id", "duplicate field id", f.ID)
		}
		c.byID[f.ID] = len(c.fields)
		c.fields = append(c.fields, f)

		if f.Name == "" {
			continue
		}
		if kept, dup := c.byName[f.Name]; dup {
			errors.Warn(errors.NewDuplicateFieldNameWarning(f.Name, kept, f.ID))
			continue
		}
		c.byName[f.Name] = f.ID
	}
	return c, nil
}

// NewCatalogFromSchema builds a catalog from its JSON form, ordered by
// column number and then by id.
func NewCatalogFromSchema(s Schema) (*Catalog, error) {
	fs := make([]Field, 0, len(s))
	for id, f := range s {
		f.ID = id
		fs = append(fs, f)
	}
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].ColumnNumber != fs[j].ColumnNumber {
			return fs[i].ColumnNumber < fs[j].ColumnNumber
		}
		return fs[i].ID < fs[j].ID
	})
	return NewCatalog(fs)
}

// Len returns the number of fields.
func (c *Catalog) Len() int { return len(c.fields) }

// Fields returns the fields in catalog order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field looks a field up by id.
func (c *Catalog) Field(id string) (Field, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// IDForName resolves a field name to its id.
func (c *Catalog) IDForName(name string) (string, bool) {
	id, ok := c.byName[name]
	return id, ok
}

// Translate returns an id-keyed row holding only usable values: keys that
// resolve to a catalog field and values that normalize to the field's type.
// With byName set, keys are field names; names not in the catalog are
// returned in dropped and reported with an UnknownFieldWarning. Without it,
// unknown ids are ignored silently.
func (c *Catalog) Translate(row core.Row, byName bool) (core.Row, []string) {
	out := make(core.Row, len(row))
	var dropped []string
	for key, raw := range row {
		id := key
		if byName {
			var ok bool
			if id, ok = c.byName[key]; !ok {
				dropped = append(dropped, key)
				continue
			}
		} else if _, ok := c.byID[key]; !ok {
			continue
		}
		if v, ok := c.Normalize(id, raw); ok {
			out[id] = v
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		errors.Warn(errors.NewUnknownFieldWarning(dropped))
	}
	return out, dropped
}

// Normalize converts a raw input value to the representation used during
// evaluation: float64 for numeric fields, string otherwise. The second result
// is false when the value counts as missing: nil, blank strings, and values
// of a different type than the field declares.
func (c *Catalog) Normalize(id string, v any) (any, bool) {
	f, ok := c.Field(id)
	if !ok || v == nil {
		return nil, false
	}
	if f.OpType == Numeric {
		x, ok := toFloat(v)
		if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return x, true
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, false
	}
	return s, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
