// Package cluster は学習済みクラスタリングのセントロイド集合を保持し、
// 入力行を最も近いセントロイドに割り当てます。
//
// 距離はスケール済み数値フィールドのユークリッド距離に、カテゴリフィールドの
// 不一致ペナルティ（スケールの二乗）を加えたものです。欠損値は常に学習時の
// 平均値（数値）または最頻値（カテゴリ）で補完されます。
package cluster

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
)

// Centroid はクラスタの代表点
type Centroid struct {
	ID     string         `json:"centroid_id"`
	Name   string         `json:"name"`
	Count  int            `json:"count"`
	Center map[string]any `json:"center"`
}

// Description はダウンロードされたクラスタ定義のJSON形式
type Description struct {
	Resource string        `json:"resource"`
	Name     string        `json:"name,omitempty"`
	Fields   fields.Schema `json:"fields"`
	// InputFields が空の場合、カタログ内の数値・カテゴリフィールド全てを使う
	InputFields []string           `json:"input_fields,omitempty"`
	Scales      map[string]float64 `json:"scales,omitempty"`
	Centroids   []Centroid         `json:"centroids"`
}

// Assignment は1行の割り当て結果
type Assignment struct {
	CentroidID   string  `json:"centroid_id"`
	CentroidName string  `json:"centroid_name"`
	Distance     float64 `json:"distance"`
}

type coordinate struct {
	id    string
	scale float64
	fill  any
}

type centroid struct {
	id    string
	name  string
	nums  []float64 // スケール済み
	cats  []string
}

// Cluster はロード後に変更されない。複数ゴルーチンから同時に使用できる。
type Cluster struct {
	id        string
	name      string
	catalog   *fields.Catalog
	numeric   []coordinate
	category  []coordinate
	centroids []centroid
	source    []Centroid
	logger    log.Logger
}

// Option は Cluster の設定関数
type Option func(*config)

type config struct {
	logger log.Logger
}

// WithLogger はロガーを設定する
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New はクラスタ定義を検証して Cluster を構築する
func New(desc Description, opts ...Option) (*Cluster, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}

	catalog, err := fields.NewCatalogFromSchema(desc.Fields)
	if err != nil {
		return nil, errors.Wrapf(err, "load cluster %s", desc.Resource)
	}
	if len(desc.Centroids) == 0 {
		return nil, errors.NewValidationError("centroids", "cluster has no centroids", desc.Resource)
	}

	c := &Cluster{
		id:      desc.Resource,
		name:    desc.Name,
		catalog: catalog,
		logger:  cfg.logger.With(log.ModelIDKey, desc.Resource, log.ModelKindKey, "cluster"),
	}
	if err := c.buildCoordinates(desc); err != nil {
		return nil, errors.Wrapf(err, "load cluster %s", desc.Resource)
	}
	for i, ct := range desc.Centroids {
		built, err := c.buildCentroid(ct)
		if err != nil {
			return nil, errors.Wrapf(err, "load cluster %s: centroid %d", desc.Resource, i)
		}
		c.centroids = append(c.centroids, built)
	}
	c.source = desc.Centroids

	c.logger.Debug("cluster loaded",
		log.OperationKey, log.OperationLoad,
		log.FieldsKey, len(c.numeric)+len(c.category),
		"centroids", len(c.centroids),
	)
	return c, nil
}

// buildCoordinates は入力フィールドをカタログ順に並べ、スケールと補完値を決める
func (c *Cluster) buildCoordinates(desc Description) error {
	wanted := make(map[string]bool, len(desc.InputFields))
	for _, id := range desc.InputFields {
		if _, ok := c.catalog.Field(id); !ok {
			return errors.NewValidationError("input_fields", "input field is not in the field catalog", id)
		}
		wanted[id] = true
	}

	for _, f := range c.catalog.Fields() {
		if len(wanted) > 0 && !wanted[f.ID] {
			continue
		}
		if f.OpType != fields.Numeric && f.OpType != fields.Categorical {
			if len(wanted) > 0 {
				return errors.NewValidationError("input_fields", "cluster input fields must be numeric or categorical", f.ID)
			}
			continue
		}

		scale := 1.0
		if s, ok := desc.Scales[f.ID]; ok {
			if s < 0 || math.IsNaN(s) {
				return errors.NewValidationError("scales", "scale must be a non-negative number for "+f.ID, s)
			}
			scale = s
		}

		if f.OpType == fields.Numeric {
			if f.Summary.Mean == nil {
				return errors.NewValidationError("fields", "numeric field has no mean to substitute", f.ID)
			}
			c.numeric = append(c.numeric, coordinate{id: f.ID, scale: scale, fill: *f.Summary.Mean})
			continue
		}
		mode, ok := f.Summary.Mode()
		if !ok {
			return errors.NewValidationError("fields", "categorical field has no categories to substitute", f.ID)
		}
		c.category = append(c.category, coordinate{id: f.ID, scale: scale, fill: mode})
	}

	if len(c.numeric)+len(c.category) == 0 {
		return errors.NewValidationError("input_fields", "cluster has no usable input fields", desc.Resource)
	}
	return nil
}

func (c *Cluster) buildCentroid(ct Centroid) (centroid, error) {
	out := centroid{
		id:   ct.ID,
		name: ct.Name,
		nums: make([]float64, len(c.numeric)),
		cats: make([]string, len(c.category)),
	}
	for i, co := range c.numeric {
		v, _ := c.catalog.Normalize(co.id, ct.Center[co.id])
		x, ok := v.(float64)
		if !ok {
			return centroid{}, errors.NewValidationError("center", "centroid has no numeric value for "+co.id, ct.Center[co.id])
		}
		out.nums[i] = x * co.scale
	}
	for i, co := range c.category {
		v, _ := c.catalog.Normalize(co.id, ct.Center[co.id])
		s, ok := v.(string)
		if !ok {
			return centroid{}, errors.NewValidationError("center", "centroid has no category for "+co.id, ct.Center[co.id])
		}
		out.cats[i] = s
	}
	return out, nil
}

// Load はJSON形式のクラスタ定義を r から読み込む
func Load(r io.Reader, opts ...Option) (*Cluster, error) {
	var desc Description
	if err := json.NewDecoder(r).Decode(&desc); err != nil {
		return nil, errors.Wrap(err, "decode cluster description")
	}
	return New(desc, opts...)
}

// LoadFile はファイルからクラスタ定義を読み込む
func LoadFile(path string, opts ...Option) (*Cluster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open cluster file %s", path)
	}
	defer f.Close()
	return Load(f, opts...)
}

func (c *Cluster) ID() string { return c.id }

func (c *Cluster) Name() string { return c.name }

// Centroids はロード順のセントロイド定義を返す
func (c *Cluster) Centroids() []Centroid {
	out := make([]Centroid, len(c.source))
	copy(out, c.source)
	return out
}

// Assign は行を最も近いセントロイドに割り当てる。
// 入力フィールドの値が一つも無い行は InvalidInputError になる。
// 距離が等しい場合はロード順で先のセントロイドを選ぶ。
func (c *Cluster) Assign(row core.Row, byName bool) (Assignment, error) {
	input, _ := c.catalog.Translate(row, byName)

	nums := make([]float64, len(c.numeric))
	cats := make([]string, len(c.category))
	usable := 0
	for i, co := range c.numeric {
		v, ok := input[co.id]
		if ok {
			usable++
		} else {
			v = co.fill
		}
		nums[i] = v.(float64) * co.scale
	}
	for i, co := range c.category {
		v, ok := input[co.id]
		if ok {
			usable++
		} else {
			v = co.fill
		}
		cats[i] = v.(string)
	}
	if usable == 0 {
		return Assignment{}, errors.NewInvalidInputError("cluster.assign", "no usable input fields")
	}

	best, bestDist := -1, math.Inf(1)
	for i := range c.centroids {
		d := c.distance(nums, cats, &c.centroids[i])
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	ct := &c.centroids[best]
	return Assignment{CentroidID: ct.id, CentroidName: ct.name, Distance: bestDist}, nil
}

func (c *Cluster) distance(nums []float64, cats []string, ct *centroid) float64 {
	sq := 0.0
	if len(nums) > 0 {
		d := floats.Distance(nums, ct.nums, 2)
		sq = d * d
	}
	for i, s := range cats {
		if s != ct.cats[i] {
			scale := c.category[i].scale
			sq += scale * scale
		}
	}
	return math.Sqrt(sq)
}

// RowPredictor はバッチドライバ用のアダプタを返す
func (c *Cluster) RowPredictor(byName bool) core.RowPredictor {
	return core.RowPredictorFunc(func(row core.Row) (core.Record, error) {
		a, err := c.Assign(row, byName)
		if err != nil {
			return core.Record{}, err
		}
		d := a.Distance
		return core.Record{
			Prediction:   a.CentroidName,
			CentroidID:   a.CentroidID,
			CentroidName: a.CentroidName,
			Distance:     &d,
		}, nil
	})
}
