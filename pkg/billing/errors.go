package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidSignature is returned when webhook signature validation fails.
	// The payload must not be processed and the caller answers with 400.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload is returned when a signed payload cannot be decoded
	// or is missing required fields.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUserNotFound is returned when no user record is bound to a customer id
	ErrUserNotFound = errors.New("no user bound to customer")

	// ErrDuplicateCustomerBinding flags a customer id bound to more than one user
	ErrDuplicateCustomerBinding = errors.New("customer bound to multiple users")

	// ErrStoreUnavailable wraps document store failures. Webhooks failing with it
	// are answered with 5xx so the provider redelivers.
	ErrStoreUnavailable = errors.New("billing store unavailable")

	// ErrRecordNotFound is returned by stores when a user record does not exist
	ErrRecordNotFound = errors.New("billing record not found")

	// ErrUnknownTier is returned when a tier name cannot be parsed
	ErrUnknownTier = errors.New("unknown tier")

	// ErrTierNotConfigured is returned when a tier has no price in the tier mapping
	ErrTierNotConfigured = errors.New("tier not configured in tier mapping")

	// ErrCustomerNotLinked is returned when a user has no payment provider customer yet
	ErrCustomerNotLinked = errors.New("user has no linked billing customer")
)
