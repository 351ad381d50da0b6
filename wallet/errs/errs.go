// Package errs holds the wallet's caller-facing sentinel errors, so callers
// can use errors.Is instead of matching on message strings.
package errs

import "errors"

var (
	ErrMintNotFound      = errors.New("wallet: mint is not known to this wallet")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrQuoteNotFound     = errors.New("wallet: quote not found")
)
