package rondo

// Hardcoded implementation limits.
//
// These exist to keep slot/series arithmetic away from overflow boundaries
// and to bound resource usage for configurations nobody has exercised.
// Limit violations are reported as ErrInvalidInput-class errors, never a
// panic.
const (
	// maxSlotCount bounds slot_count = retention / interval for any tier.
	// At 8 bytes per slot this allows roughly 8GB of timestamps per tier.
	maxSlotCount = uint64(1_000_000_000)

	// maxSeriesPerSchema bounds max_series for any one schema.
	maxSeriesPerSchema = uint32(1_000_000)

	// maxTiersPerSchema bounds the number of tiers a schema may declare.
	maxTiersPerSchema = 32

	// maxSchemasPerStore bounds the number of schemas passed to Open.
	maxSchemasPerStore = 256

	// maxBatchEntries bounds the size of a single RecordBatch call.
	maxBatchEntries = 100_000

	// reservedLabelPrefix marks label keys the engine refuses to register.
	reservedLabelPrefix = "__"
)
