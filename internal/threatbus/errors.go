package threatbus

import "errors"

var (
	ErrMalformedRecord = errors.New("threatbus: malformed record")
	ErrBadSignature    = errors.New("threatbus: bad signature")
	ErrStaleRecord     = errors.New("threatbus: record outside freshness window")
	ErrUntrustedIssuer = errors.New("threatbus: issuer key not trusted")
	ErrReplayed        = errors.New("threatbus: duplicate message id")
	ErrQueueFull       = errors.New("threatbus: publish queue full")
	ErrFieldOutOfRange = errors.New("threatbus: record field out of range")
)
