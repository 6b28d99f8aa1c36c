package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/YuminosukeSato/localml/batch"
	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/metrics"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
)

type predictCmdConfig struct {
	*rootCmdConfig
	resource        string
	input           string
	output          string
	format          string
	missingStrategy string
	method          string
	thresholdClass  string
	thresholdK      int
	median          bool
	byName          bool
	workers         int
	chunkSize       int
	cacheSize       int
	objective       string
}

func predictCmd(rootConfig *rootCmdConfig) *cobra.Command {
	cmd, _ := newPredictCmd(rootConfig)
	return cmd
}

func newPredictCmd(rootConfig *rootCmdConfig) (*cobra.Command, *predictCmdConfig) {
	config := &predictCmdConfig{rootCmdConfig: rootConfig}
	defaults := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Evaluate a downloaded model, ensemble or cluster against input rows",
		Long:  `Evaluate a downloaded model, ensemble or cluster description against every row of a CSV or JSON file and write one output row per input row, in input order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.resolve(cmd)
			if err != nil {
				return err
			}
			return config.run(cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&config.resource, "resource", "r", "", "path to a downloaded model, ensemble or cluster JSON description (required)")
	cmd.Flags().StringVarP(&config.input, "input", "i", "", "path to the input rows, CSV with a header or a .json array of objects (defaults to STDIN as CSV)")
	cmd.Flags().StringVarP(&config.output, "output", "o", "", "path to the output file (defaults to STDOUT)")
	cmd.Flags().StringVarP(&config.format, "format", "f", formatCSV, "output format: csv or json")
	cmd.Flags().StringVar(&config.missingStrategy, "missing-strategy", defaults.MissingStrategy, "missing value strategy: last_prediction or proportional")
	cmd.Flags().StringVar(&config.method, "method", defaults.Method, "ensemble combination method: plurality, confidence, probability or threshold")
	cmd.Flags().StringVar(&config.thresholdClass, "threshold-class", "", "class voted for by the threshold method")
	cmd.Flags().IntVar(&config.thresholdK, "threshold-k", 0, "minimum number of votes for the threshold class")
	cmd.Flags().BoolVar(&config.median, "median", defaults.Median, "combine numeric ensemble votes with the weighted median")
	cmd.Flags().BoolVar(&config.byName, "by-name", defaults.ByName, "input columns are field names rather than field ids")
	cmd.Flags().IntVarP(&config.workers, "workers", "w", defaults.Workers, "number of rows evaluated in parallel")
	cmd.Flags().IntVar(&config.chunkSize, "chunk-size", defaults.ChunkSize, "number of rows per parallel chunk")
	cmd.Flags().IntVar(&config.cacheSize, "cache-size", defaults.CacheSize, "number of distinct rows to memoize, 0 disables the cache")
	cmd.Flags().StringVar(&config.objective, "objective", "", "input column holding the known objective value; when set, a score summary is written to STDERR")
	return cmd, config
}

// resolve loads the configuration file, if any, and applies the flags that
// were set explicitly on top of it.
func (pcc *predictCmdConfig) resolve(cmd *cobra.Command) (Config, error) {
	cfg := DefaultConfig()
	if pcc.configPath != "" {
		loaded, err := LoadConfig(pcc.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("missing-strategy") {
		cfg.MissingStrategy = pcc.missingStrategy
	}
	if flags.Changed("method") {
		cfg.Method = pcc.method
	}
	if flags.Changed("threshold-class") {
		cfg.Threshold.Class = pcc.thresholdClass
	}
	if flags.Changed("threshold-k") {
		cfg.Threshold.K = pcc.thresholdK
	}
	if flags.Changed("median") {
		cfg.Median = pcc.median
	}
	if flags.Changed("by-name") {
		cfg.ByName = pcc.byName
	}
	if flags.Changed("workers") {
		cfg.Workers = pcc.workers
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = pcc.chunkSize
	}
	if flags.Changed("cache-size") {
		cfg.CacheSize = pcc.cacheSize
	}
	if pcc.logLevel != "" {
		cfg.Log.Level = pcc.logLevel
	}
	if pcc.logFile != "" {
		cfg.Log.File = pcc.logFile
	}
	return cfg, pcc.Validate()
}

func (pcc *predictCmdConfig) Validate() error {
	if pcc.resource == "" {
		return errors.NewValidationError("resource", "a resource description is required", nil)
	}
	if pcc.format != formatCSV && pcc.format != formatJSON {
		return errors.NewValidationError("format", "must be csv or json", pcc.format)
	}
	return nil
}

func (pcc *predictCmdConfig) run(cmd *cobra.Command, cfg Config) error {
	var logWriter io.Writer = cmd.ErrOrStderr()
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		defer rotating.Close()
		logWriter = rotating
	}
	logger, err := log.SetupLogger(cfg.Log.Level, logWriter)
	if err != nil {
		return err
	}
	logger = logger.With(log.ComponentKey, "cli")

	settings, err := newPredictorSettings(cfg)
	if err != nil {
		return err
	}
	predictor, kind, err := loadPredictor(pcc.resource, settings, logger)
	if err != nil {
		return err
	}

	rows, err := pcc.readInput(cmd)
	if err != nil {
		return err
	}

	driver, err := batch.New(predictor,
		batch.WithWorkers(cfg.Workers),
		batch.WithChunkSize(cfg.ChunkSize),
		batch.WithCache(cfg.CacheSize),
		batch.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pcc.output != "" {
		f, err := os.Create(pcc.output)
		if err != nil {
			return errors.Wrapf(err, "create output %s", pcc.output)
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if pcc.objective != "" && kind == kindCluster {
		return errors.NewValidationError("objective", "clusters have no objective to score", pcc.objective)
	}
	records := driver.PredictAll(ctx, rows)
	var scored []core.Record
	if pcc.objective != "" {
		records = tee(records, &scored)
	}

	failed, err := writeRecords(out, pcc.format, kind, records)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "prediction interrupted")
	}
	if failed > 0 {
		logger.Warn("some rows could not be evaluated", log.RowsKey, len(rows), log.FailedRowsKey, failed)
	}
	if pcc.objective != "" {
		return pcc.score(cmd, rows, scored)
	}
	return nil
}

// score compares the records with the objective column and writes the summary.
func (pcc *predictCmdConfig) score(cmd *cobra.Command, rows []core.Row, records []core.Record) error {
	actual := make([]any, len(rows))
	for i, row := range rows {
		actual[i] = row[pcc.objective]
	}
	summary, err := metrics.Evaluate(records, actual)
	if err != nil {
		return err
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "scored %d of %d rows (%d failed, %d without %s)\n",
		summary.Scored, summary.Rows, summary.Failed, summary.Skipped, pcc.objective)
	if summary.Accuracy != nil {
		fmt.Fprintf(w, "accuracy: %.4f\n", *summary.Accuracy)
	}
	if summary.MSE != nil {
		fmt.Fprintf(w, "mse: %.4f\nrmse: %.4f\nmae: %.4f\n", *summary.MSE, *summary.RMSE, *summary.MAE)
	}
	if summary.R2 != nil {
		fmt.Fprintf(w, "r2: %.4f\n", *summary.R2)
	}
	return nil
}

// tee passes records through while keeping a copy of each.
func tee(records iter.Seq[core.Record], kept *[]core.Record) iter.Seq[core.Record] {
	return func(yield func(core.Record) bool) {
		for rec := range records {
			*kept = append(*kept, rec)
			if !yield(rec) {
				return
			}
		}
	}
}

func (pcc *predictCmdConfig) readInput(cmd *cobra.Command) ([]core.Row, error) {
	if pcc.input == "" {
		return readRows(cmd.InOrStdin(), "")
	}
	f, err := os.Open(pcc.input)
	if err != nil {
		return nil, errors.Wrapf(err, "open input %s", pcc.input)
	}
	defer f.Close()
	return readRows(f, pcc.input)
}
