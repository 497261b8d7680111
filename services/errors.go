package services

import "errors"

var (
	// ErrPaymentNotFound means no record exists for the order id.
	ErrPaymentNotFound = errors.New("payment record not found")
	// ErrInvalidSignature means the gateway signature did not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrSecretNotConfigured means a shared secret is missing from config.
	ErrSecretNotConfigured = errors.New("signing secret not configured")
	// ErrInvalidQuantity rejects orders for zero or negative units.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
)
