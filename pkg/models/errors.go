package models

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrWalletUnavailable  = errors.New("wallet not found")
	ErrWrongChain         = errors.New("wrong network")
	ErrUserRejected       = errors.New("request rejected by user")
	ErrReadFailure        = errors.New("read failed")
	ErrReverted           = errors.New("call reverted")
	ErrTransactionFailure = errors.New("transaction failed")
	ErrMetadataFetch      = errors.New("metadata unavailable")
)

// Status renders err as the one-line message shown in the status bar.
func Status(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWalletUnavailable):
		return "No wallet found. Configure a private key to connect."
	case errors.Is(err, ErrUserRejected):
		return "Request was rejected in the wallet."
	case errors.Is(err, ErrWrongChain):
		return "Connected to the wrong network. Switch chains to continue."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, ErrTransactionFailure):
		return "Transaction failed: " + detail(err, ErrTransactionFailure)
	case errors.Is(err, ErrMetadataFetch):
		return "Metadata unavailable: " + detail(err, ErrMetadataFetch)
	}
	return "Error: " + err.Error()
}

// detail strips the sentinel prefix so the underlying message is shown once.
func detail(err, sentinel error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	if msg == sentinel.Error() {
		return "unknown error"
	}
	return msg
}
