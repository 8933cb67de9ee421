package ledger

import (
	"context"
)

// Client is the exact method set the settler needs from the on-chain ledger.
// Test doubles implement the same interface.
type Client interface {
	// GetEndTime returns the market end time in epoch seconds
	GetEndTime(ctx context.Context, conditionID string) (int64, error)

	// GetQuestion returns the market question text
	GetQuestion(ctx context.Context, conditionID string) (string, error)

	// IsSettled reports whether the market is already settled on chain
	IsSettled(ctx context.Context, conditionID string) (bool, error)

	// OutcomeToken maps an outcome label to its ledger-native token id
	OutcomeToken(ctx context.Context, conditionID, outcome string) (string, error)

	// WinningToken returns the recorded winning token id, or "" if none
	WinningToken(ctx context.Context, conditionID string) (string, error)

	// Settle submits the settlement transaction with the authority identity
	// and waits for inclusion confirmation. Returns the transaction signature.
	Settle(ctx context.Context, conditionID, tokenID string) (string, error)
}
