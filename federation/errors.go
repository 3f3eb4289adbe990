package federation

import "errors"

// Validation and transport failures. Business-rule rejections (already
// liked, not allowed) are not errors; they come back as domain.Result
// statuses.
var (
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrDomainBlocked           = errors.New("domain blocked")
	ErrUnsupportedActivityType = errors.New("unsupported activity type")
	ErrMalformedObject         = errors.New("malformed activity object")
	ErrDeliveryFailed          = errors.New("delivery failed")
)
