package chain

import "errors"

// Sentinel error kinds, one per row of the policy table in SPEC_FULL.md
// section 7. Errors that carry one wrap it with %w so callers can test
// for it with errors.Is. No stage loop switches on these kinds: a
// StageWorker hands a handler's error back to the asker unchanged, and
// the gap generator logs a failed cycle at warn and continues.
var (
	// ErrTransientStore covers C1 read errors and C2 connection drops.
	// Policy: log at warn, retry at the next cycle.
	ErrTransientStore = errors.New("transient store error")

	// ErrMissingBlock names the case where C1 has no block at a height
	// the relational store reported as missing. Policy: log at warn,
	// skip this height this cycle; the gap will re-emerge. The ledger
	// view reports this case as ok == false from BlockByHeight rather
	// than by returning this error.
	ErrMissingBlock = errors.New("missing block in ledger view")

	// ErrDecodeFailure is returned when the decoder rejects a payload.
	// Policy: fatal to the batch, quarantine the offending extrinsic
	// to the dead-letter table (SPEC_FULL.md section 3.1).
	ErrDecodeFailure = errors.New("decode failure")

	// ErrWriteRejected is the value the read-only ledger view panics
	// with on any write attempt. Programmer error; abort the process.
	ErrWriteRejected = errors.New("write rejected: read-only view")

	// ErrConfigMissing covers a required environment variable that was
	// absent at startup. Fatal.
	ErrConfigMissing = errors.New("required configuration missing")

	// ErrSubscriptionClosed names the case where C8's transport closes.
	// The listener signals that case by calling its DisconnectHandler,
	// which takes no arguments; this value is not passed to it.
	ErrSubscriptionClosed = errors.New("subscription transport closed")

	// ErrNoWorkers is returned by the scheduler when a stage has no
	// registered worker. Fatal; indicates a startup-order bug.
	ErrNoWorkers = errors.New("no workers registered for stage")
)
