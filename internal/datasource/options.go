package datasource

// EnforceSource restricts the pipeline to a single stage, bypassing the
// rest of the Cache -> Vision -> REST chain.
type EnforceSource string

const (
	EnforceAny    EnforceSource = "ANY"
	EnforceCache  EnforceSource = "CACHE"
	EnforceVision EnforceSource = "VISION"
	EnforceREST   EnforceSource = "REST"
)

// FutureDatePolicy controls how a request whose End is after now is
// handled.
type FutureDatePolicy string

const (
	FutureError    FutureDatePolicy = "ERROR"
	FutureTruncate FutureDatePolicy = "TRUNCATE"
	FutureAllow    FutureDatePolicy = "ALLOW"
)

// Options mirrors spec.md §6's get_data option table.
type Options struct {
	UseCache          bool
	EnforceSource     EnforceSource
	IncludeSourceInfo bool
	// ReturnPolarsStyle is accepted and recorded but has no behavioral
	// effect: both output flavours are the same Frame value, since no
	// tabular-frame library is part of the wired dependency stack.
	ReturnPolarsStyle bool
	FutureDatePolicy  FutureDatePolicy
	HandlePartial     bool
	// WritebackREST opportunistically caches REST-sourced rows, a
	// configurable extension of §4.8's "configurably after C6 fetches".
	WritebackREST bool
}

// DefaultOptions matches the spec's documented safe-for-interactive-use
// defaults.
func DefaultOptions() Options {
	return Options{
		UseCache:         true,
		EnforceSource:    EnforceAny,
		FutureDatePolicy: FutureTruncate,
		HandlePartial:    true,
	}
}
