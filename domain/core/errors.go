package core

import (
	"errors"
	"fmt"
)

// Engine errors. Every computation surfaces one of these instead of
// substituting a default value.
var (
	// Data shape errors
	ErrInsufficientData      = errors.New("insufficient data for analysis")
	ErrEmptyInput            = errors.New("empty input")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidStratification = errors.New("invalid stratification")

	// Configuration errors
	ErrInvalidCalibration = errors.New("invalid calibration")
	ErrUnknownDomain      = errors.New("unknown audit domain")

	// Report errors
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrHashMismatch         = errors.New("hash mismatch")
)

// Error constructors with context
func NewInsufficientDataError(have, need int, what string) error {
	return fmt.Errorf("%w: %s has %d usable values, need at least %d", ErrInsufficientData, what, have, need)
}

func NewEmptyInputError(what string) error {
	return fmt.Errorf("%w: %s", ErrEmptyInput, what)
}

func NewInvalidInputError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, reason)
}

func NewInvalidCalibrationError(stratum string, reason string) error {
	return fmt.Errorf("%w for stratum %q: %s", ErrInvalidCalibration, stratum, reason)
}

func NewReferentialIntegrityError(gapMetric, stratum string) error {
	return fmt.Errorf("%w: equity gap on %s references stratum %q which is not in the report", ErrReferentialIntegrity, gapMetric, stratum)
}

// Error checking helpers
func IsDataError(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidStratification)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidCalibration) ||
		errors.Is(err, ErrUnknownDomain)
}

func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, ErrHashMismatch)
}
