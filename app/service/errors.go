package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrLinkNotFound           = errors.New("payment link not found")
	ErrOrderCreation          = errors.New("swap order creation failed")
	ErrProviderUnavailable    = errors.New("swap provider unavailable")
	ErrWalletUnavailable      = errors.New("settlement wallet unavailable")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrConditionNotMet        = errors.New("escrow condition not met")
	ErrDepositNotConfirmed    = errors.New("deposit not confirmed")
	ErrTransferFailed         = errors.New("transfer failed")
	ErrLinkTerminal           = errors.New("payment link is terminal")
	ErrInvalidLinkKind        = errors.New("operation not supported for link kind")
	ErrPartialDistribution    = errors.New("partial distribution failure")
	ErrWebhookRejected        = errors.New("webhook rejected")
	ErrSubscriptionNotFound   = errors.New("webhook subscription not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrTransactionNotPending  = errors.New("transaction is not pending")
	ErrInvoiceNotFound        = errors.New("invoice not found")
)

// ReleaseError explains why a release did not happen. Reason is one of the
// sentinel errors above and is what errors.Is matches against.
type ReleaseError struct {
	Reason   error
	Detail   string
	Guidance string
}

func (e *ReleaseError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason.Error(), e.Detail)
}

func (e *ReleaseError) Unwrap() error {
	return e.Reason
}

func newReleaseError(reason error, detail, guidance string) *ReleaseError {
	return &ReleaseError{Reason: reason, Detail: detail, Guidance: guidance}
}
