package domain

import "errors"

var (
	ErrProviderNotFound = errors.New("pos: provider not found")
	ErrInvalidConfig    = errors.New("pos: invalid adapter config")
	ErrInvalidSignature = errors.New("pos: invalid signature")
	ErrMissingSecret    = errors.New("pos: webhook secret not configured")
	ErrInvalidPayload   = errors.New("pos: invalid payload")
	ErrEventIgnored     = errors.New("pos: event ignored")
	ErrOrderNotFound    = errors.New("pos: order not found")
	ErrUpstream         = errors.New("pos: upstream provider error")
	ErrNotSupported     = errors.New("pos: operation not supported")
)
