package domain

import "errors"

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidDelta     = errors.New("invalid_delta")
	ErrInvalidComponent = errors.New("invalid_cost_component")
	ErrLedgerNotFound   = errors.New("ledger_not_found")
)
