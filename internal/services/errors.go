package services

import "errors"

// Sentinel errors returned by the service layer. Handlers translate these
// into stable HTTP error codes; anything else maps to an internal error.
var (
	// ErrInvalidAmount indicates the donation amount is below the minimum
	// (one whole unit of the currency) or not a finite number.
	ErrInvalidAmount = errors.New("invalid donation amount")

	// ErrInvalidFrequency indicates the frequency is not one of the
	// supported values.
	ErrInvalidFrequency = errors.New("invalid donation frequency")

	// ErrDonorNotFound indicates no donor record matches the lookup.
	ErrDonorNotFound = errors.New("donor not found")

	// ErrCustomerEmailMissing indicates a payment carries no donor email in
	// its metadata and its customer record has none either, so the payment
	// cannot be attributed.
	ErrCustomerEmailMissing = errors.New("customer email missing")

	// ErrMissingClientSecret indicates the gateway response did not include
	// the client secret the frontend needs to confirm the payment.
	ErrMissingClientSecret = errors.New("gateway response missing client secret")
)
