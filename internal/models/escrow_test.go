package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{EscrowStatusPendingFunding, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusReleasePending, true},
		{EscrowStatusFunded, EscrowStatusRefunded, true},
		{EscrowStatusReleasePending, EscrowStatusReleased, true},
		{EscrowStatusReleasePending, EscrowStatusPartiallyReleased, true},
		// Откат после отклонённой провайдером выплаты.
		{EscrowStatusReleasePending, EscrowStatusFunded, true},
		{EscrowStatusPartiallyReleased, EscrowStatusReleasePending, true},
		{EscrowStatusPartiallyReleased, EscrowStatusRefunded, true},

		{EscrowStatusPendingFunding, EscrowStatusReleased, false},
		{EscrowStatusPendingFunding, EscrowStatusRefunded, false},
		{EscrowStatusFunded, EscrowStatusReleased, false},
		{EscrowStatusReleased, EscrowStatusFunded, false},
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusRefunded, EscrowStatusFunded, false},
		{EscrowStatusDisputed, EscrowStatusReleased, false},
		{"unknown", EscrowStatusFunded, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to),
			"переход %s -> %s", tc.from, tc.to)
	}
}

func TestCanDispute(t *testing.T) {
	assert.True(t, CanDispute(EscrowStatusPendingFunding))
	assert.True(t, CanDispute(EscrowStatusFunded))
	assert.True(t, CanDispute(EscrowStatusReleasePending))
	assert.True(t, CanDispute(EscrowStatusPartiallyReleased))

	assert.False(t, CanDispute(EscrowStatusDisputed), "повторный спор недопустим")
	assert.False(t, CanDispute(EscrowStatusReleased), "терминальный статус")
	assert.False(t, CanDispute(EscrowStatusRefunded), "терминальный статус")
}

func TestBalanceInvariantHolds(t *testing.T) {
	mk := func(funded, balance string) *Escrow {
		return &Escrow{
			FundedAmount:   decimal.RequireFromString(funded),
			CurrentBalance: decimal.RequireFromString(balance),
		}
	}

	assert.True(t, mk("100.00", "100.00").BalanceInvariantHolds())
	assert.True(t, mk("100.00", "0").BalanceInvariantHolds())
	assert.True(t, mk("100.00", "37.50").BalanceInvariantHolds())

	assert.False(t, mk("100.00", "-0.01").BalanceInvariantHolds())
	assert.False(t, mk("100.00", "100.01").BalanceInvariantHolds())
}
