package errors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid")
	ErrConflict         = errors.New("conflict")
	ErrTooMany          = errors.New("too many requests")
	ErrInternal         = errors.New("internal")
	ErrConfig           = errors.New("config error")
	ErrIO               = errors.New("io error")
	ErrConversion       = errors.New("conversion error")
	ErrProvider         = errors.New("provider error")
	ErrProviderMismatch = errors.New("embedding provider mismatch")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

func IsProvider(err error) bool {
	return errors.Is(err, ErrProvider)
}
