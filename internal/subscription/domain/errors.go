package domain

import "errors"

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
