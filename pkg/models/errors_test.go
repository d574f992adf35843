package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{ErrWalletUnavailable, "No wallet found. Configure a private key to connect."},
		{fmt.Errorf("connect: %w", ErrUserRejected), "Request was rejected in the wallet."},
		{fmt.Errorf("%w: out of gas", ErrTransactionFailure), "Transaction failed: out of gas"},
		{ErrTransactionFailure, "Transaction failed: unknown error"},
		{fmt.Errorf("%w: all gateways failed", ErrMetadataFetch), "Metadata unavailable: all gateways failed"},
		{errors.New("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Status(tt.err))
	}
}
