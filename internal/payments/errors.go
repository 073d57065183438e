package payments

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrOutOfStock       = errors.New("out of stock")
	ErrSaleWindowClosed = errors.New("sale window closed")
	ErrNoRecipient      = errors.New("no recipient address configured")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidStatus    = errors.New("invalid status transition")
)
