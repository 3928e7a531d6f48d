package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be a positive decimal")
	ErrInvalidSide       = errors.New("side must be TRUE or FALSE")
	ErrInvalidWallet     = errors.New("wallet address is required")

	// ErrConflict means a concurrent writer changed the row a write was
	// computed from. Only the market engine retries on it.
	ErrConflict = errors.New("concurrent modification")
)
