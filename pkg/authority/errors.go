package authority

import "errors"

// ErrUnknownValidator is returned when an address has no index in the validator set.
var ErrUnknownValidator = errors.New("unknown validator")
