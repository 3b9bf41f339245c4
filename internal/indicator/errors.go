package indicator

import "errors"

// Construction-time precondition failures. These are the only error
// kinds the package produces; Next never fails after a successful
// construction, and no validation happens mid-stream.
var (
	// ErrInvalidParameter reports a structural constructor argument
	// (e.g. a zero period) that violates its contract.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDataItemIncomplete and ErrDataItemInvalid are reserved for
	// input validation; nothing in this package triggers them today
	// but they are part of the shared taxonomy.
	ErrDataItemIncomplete = errors.New("data item is incomplete")
	ErrDataItemInvalid    = errors.New("data item is invalid")
)
