// Package log defines standard attribute keys for prediction runs.
//
// Keys follow a hierarchical naming convention ("model.id", "data.rows") so
// that log pipelines can filter on a prefix.

package log

// Model and Operation Context
const (
	// ModelIDKey is the remote resource id of the model, ensemble or cluster,
	// e.g. "model/52df49b60c0b5e589b00014b".
	ModelIDKey = "model.id"

	// ModelKindKey is one of "model", "ensemble", "cluster".
	ModelKindKey = "model.kind"

	// MembersKey is the number of members of an ensemble.
	MembersKey = "model.members"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	// Examples: "batch", "ensemble", "cli"
	ComponentKey = "ml.component"
)

// Data Shape
const (
	// RowsKey is the number of input rows.
	RowsKey = "data.rows"

	// FieldsKey is the number of fields in a catalog.
	FieldsKey = "data.fields"

	// NodesKey is the number of nodes in a tree arena.
	NodesKey = "data.nodes"

	// RowIndexKey is the position of a row in its batch.
	RowIndexKey = "data.row_index"

	// DroppedFieldsKey lists input keys that could not be mapped to a field.
	DroppedFieldsKey = "data.dropped_fields"
)

// Prediction Context
const (
	// MissingStrategyKey is the missing-value strategy used for tree descent.
	MissingStrategyKey = "predict.missing_strategy"

	// MethodKey is the vote combination method.
	MethodKey = "predict.combiner"

	// FailedRowsKey counts rows that produced an error record.
	FailedRowsKey = "predict.failed_rows"

	// FailedMembersKey counts ensemble members excluded from a vote.
	FailedMembersKey = "predict.failed_members"

	// CacheHitsKey counts rows answered from the batch cache.
	CacheHitsKey = "predict.cache_hits"
)

// Batch Execution
const (
	// RunIDKey identifies one PredictAll run.
	RunIDKey = "batch.run_id"

	// WorkersKey is the size of the worker pool.
	WorkersKey = "batch.workers"

	// ChunkSizeKey is the number of rows evaluated per parallel chunk.
	ChunkSizeKey = "batch.chunk_size"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Error Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationLoad    = "load"
	OperationPredict = "predict"
	OperationAssign  = "assign"
	OperationCombine = "combine"

	ErrorInvalidInput = "INVALID_INPUT"
	ErrorMalformed    = "MALFORMED_TREE"
	ErrorNoVotes      = "NO_VOTES"
	ErrorPanic        = "PANIC"
)
