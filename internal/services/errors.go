package services

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrConnectionNotActive   = errors.New("connection is not active")
	ErrAlreadyConnected      = errors.New("brand already has a connection for this connector")
	ErrUnsupportedConnector  = errors.New("unsupported connector")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrUnknownField          = errors.New("unknown field")
	ErrRequiredField         = errors.New("field cannot be toggled independently")
	ErrAlreadySyncing        = errors.New("a sync is already in progress for this connection")
	ErrJobNotFound           = errors.New("sync job not found")
	ErrJobNotCancellable     = errors.New("sync job is not in progress")
	ErrCredentialStoreAbsent = errors.New("credential store not configured")
)

// ValidationError is a rejected request parameter
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is caused by caller input
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrRequiredField) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrUnsupportedConnector)
}

// IsTriggerRejection reports errors that are expected outcomes of an automatic trigger
func IsTriggerRejection(err error) bool {
	return errors.Is(err, ErrAlreadySyncing) || errors.Is(err, ErrConnectionNotActive)
}
