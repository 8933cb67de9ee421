package ledger

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"market-settler/internal/utils"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const (
	settleInstructionTag  = 2 // market program instruction index for settle
	confirmPollInterval   = 2 * time.Second
	confirmTimeout        = 90 * time.Second
	marketAccountSeedWord = "market"
)

// SolanaLedger reads and settles market conditions against the on-chain
// market program. Reads are unsigned RPC calls; the settle transaction is
// signed by the settlement authority.
type SolanaLedger struct {
	rpcClient       *rpc.Client
	network         string
	programID       solana.PublicKey
	authorityWallet *solana.Wallet
	minAuthoritySOL decimal.Decimal
}

// marketAccount is the borsh layout of an on-chain market condition account
type marketAccount struct {
	EndTime      int64
	Settled      bool
	WinningToken uint64
	YesToken     uint64
	NoToken      uint64
	Question     string
}

// NewSolanaLedger creates a ledger client for the given network
func NewSolanaLedger(network, programID, authorityKey, minAuthoritySOL string) (*SolanaLedger, error) {
	var rpcURL string
	switch network {
	case "mainnet-beta":
		rpcURL = "https://api.mainnet-beta.solana.com"
	case "devnet":
		rpcURL = "https://api.devnet.solana.com"
	case "testnet":
		rpcURL = "https://api.testnet.solana.com"
	default:
		rpcURL = "https://api.devnet.solana.com"
	}

	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid market program id: %w", err)
	}

	client := &SolanaLedger{
		rpcClient: rpc.New(rpcURL),
		network:   network,
		programID: program,
	}

	if authorityKey != "" {
		wallet, err := solana.WalletFromPrivateKeyBase58(authorityKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load settlement authority wallet: %w", err)
		}
		client.authorityWallet = wallet
		log.Printf("Settlement authority loaded: %s", wallet.PublicKey())
	}

	minSOL, err := decimal.NewFromString(minAuthoritySOL)
	if err != nil {
		minSOL = decimal.Zero
	}
	client.minAuthoritySOL = minSOL

	return client, nil
}

// marketAddress derives the PDA of a condition's market account
func (s *SolanaLedger) marketAddress(conditionID string) (solana.PublicKey, error) {
	idBytes, err := utils.ConditionIDBytes(conditionID)
	if err != nil {
		return solana.PublicKey{}, err
	}

	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(marketAccountSeedWord), idBytes},
		s.programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive market address: %w", err)
	}
	return addr, nil
}

// fetchMarketAccount reads and decodes the on-chain market account
func (s *SolanaLedger) fetchMarketAccount(ctx context.Context, conditionID string) (*marketAccount, error) {
	addr, err := s.marketAddress(conditionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.rpcClient.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market account %s: %w", addr, err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("market account %s not found on %s", addr, s.network)
	}

	var acct marketAccount
	decoder := bin.NewBorshDecoder(resp.Value.Data.GetBinary())
	if err := decoder.Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode market account data: %w", err)
	}

	return &acct, nil
}

// GetEndTime returns the market end time in epoch seconds
func (s *SolanaLedger) GetEndTime(ctx context.Context, conditionID string) (int64, error) {
	acct, err := s.fetchMarketAccount(ctx, conditionID)
	if err != nil {
		return 0, err
	}
	return acct.EndTime, nil
}

// GetQuestion returns the market question text
func (s *SolanaLedger) GetQuestion(ctx context.Context, conditionID string) (string, error) {
	acct, err := s.fetchMarketAccount(ctx, conditionID)
	if err != nil {
		return "", err
	}
	return acct.Question, nil
}

// IsSettled reports whether the market is settled on chain
func (s *SolanaLedger) IsSettled(ctx context.Context, conditionID string) (bool, error) {
	acct, err := s.fetchMarketAccount(ctx, conditionID)
	if err != nil {
		return false, err
	}
	return acct.Settled, nil
}

// OutcomeToken maps an outcome label to its token id
func (s *SolanaLedger) OutcomeToken(ctx context.Context, conditionID, outcome string) (string, error) {
	acct, err := s.fetchMarketAccount(ctx, conditionID)
	if err != nil {
		return "", err
	}

	switch outcome {
	case "YES":
		return strconv.FormatUint(acct.YesToken, 10), nil
	case "NO":
		return strconv.FormatUint(acct.NoToken, 10), nil
	default:
		return "", fmt.Errorf("unknown outcome label %q", outcome)
	}
}

// WinningToken returns the recorded winning token id, or "" if the market is
// not settled yet
func (s *SolanaLedger) WinningToken(ctx context.Context, conditionID string) (string, error) {
	acct, err := s.fetchMarketAccount(ctx, conditionID)
	if err != nil {
		return "", err
	}
	if !acct.Settled {
		return "", nil
	}
	return strconv.FormatUint(acct.WinningToken, 10), nil
}

// Settle submits the settlement instruction signed by the authority wallet and
// waits for confirmation
func (s *SolanaLedger) Settle(ctx context.Context, conditionID, tokenID string) (string, error) {
	if s.authorityWallet == nil {
		return "", fmt.Errorf("settlement authority wallet not configured")
	}

	if err := s.checkAuthorityBalance(ctx); err != nil {
		return "", err
	}

	token, err := strconv.ParseUint(tokenID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid token id %q: %w", tokenID, err)
	}

	marketAddr, err := s.marketAddress(conditionID)
	if err != nil {
		return "", err
	}

	data, err := encodeSettleData(token)
	if err != nil {
		return "", err
	}

	instruction := solana.NewInstruction(
		s.programID,
		solana.AccountMetaSlice{
			solana.Meta(marketAddr).WRITE(),
			solana.Meta(s.authorityWallet.PublicKey()).SIGNER(),
		},
		data,
	)

	blockhash, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(s.authorityWallet.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build settlement transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.authorityWallet.PublicKey()) {
			return &s.authorityWallet.PrivateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign settlement transaction: %w", err)
	}

	sig, err := s.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send settlement transaction: %w", err)
	}

	if err := s.awaitConfirmation(ctx, sig); err != nil {
		return "", err
	}

	log.Printf("Settlement confirmed for %s: %s", conditionID, sig)
	return sig.String(), nil
}

// awaitConfirmation polls signature status until confirmed or timed out
func (s *SolanaLedger) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(confirmTimeout)

	for time.Now().Before(deadline) {
		status, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return fmt.Errorf("failed to check signature status: %w", err)
		}

		if len(status.Value) > 0 && status.Value[0] != nil {
			st := status.Value[0]
			if st.Err != nil {
				return fmt.Errorf("settlement transaction %s failed on chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(confirmPollInterval):
		}
	}

	return fmt.Errorf("settlement transaction %s not confirmed within %s", sig, confirmTimeout)
}

// checkAuthorityBalance verifies the authority can pay fees before submitting
func (s *SolanaLedger) checkAuthorityBalance(ctx context.Context) error {
	balance, err := s.rpcClient.GetBalance(ctx, s.authorityWallet.PublicKey(), rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("failed to check authority balance: %w", err)
	}

	sol := decimal.NewFromInt(int64(balance.Value)).Div(decimal.NewFromInt(1_000_000_000))
	if sol.LessThan(s.minAuthoritySOL) {
		return fmt.Errorf("authority balance %s SOL below minimum %s SOL", sol, s.minAuthoritySOL)
	}

	return nil
}

// encodeSettleData borsh-encodes the settle instruction payload
func encodeSettleData(winningToken uint64) ([]byte, error) {
	var buf bytes.Buffer
	encoder := bin.NewBorshEncoder(&buf)
	if err := encoder.WriteUint8(settleInstructionTag); err != nil {
		return nil, err
	}
	if err := encoder.WriteUint64(winningToken, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
