package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-settler/internal/audit"
	"market-settler/internal/ledger"
	"market-settler/internal/models"
	"market-settler/internal/oracle"
	"market-settler/internal/store"
)

// Fixed outcome set for binary markets. An ambiguous oracle verdict resolves
// to the negative outcome.
var Outcomes = []string{"YES", "NO"}

const DefaultOutcome = "NO"

// Pipeline drives one market through the settlement sequence:
// ledger re-check, oracle decision, token resolution, on-chain commit,
// record update. Strictly sequential; every external call is a blocking
// suspension point.
type Pipeline struct {
	store  *store.Store
	ledger ledger.Client
	oracle oracle.Decider
	audit  audit.Sink
}

func NewPipeline(st *store.Store, lg ledger.Client, decider oracle.Decider, sink audit.Sink) *Pipeline {
	return &Pipeline{
		store:  st,
		ledger: lg,
		oracle: decider,
		audit:  sink,
	}
}

// Process settles a single eligible market. A returned error means the
// attempt was abandoned; the retry counter has already been incremented and
// the market stays eligible until it exhausts its retries.
func (p *Pipeline) Process(ctx context.Context, market *models.Market) error {
	conditionID := market.ConditionID

	// Re-check external truth before doing anything expensive
	settled, err := p.ledger.IsSettled(ctx, conditionID)
	if err != nil {
		return p.failAttempt(ctx, conditionID, fmt.Errorf("ledger settlement check failed: %w", err))
	}

	if err := p.store.SetLedgerStatus(ctx, conditionID, settled, time.Now()); err != nil {
		return err
	}

	if settled {
		// Someone else settled it; record and finish without committing
		if err := p.recordExternalSettlement(ctx, conditionID); err != nil {
			return err
		}
		log.Printf("[Pipeline] Market %s already settled on ledger", conditionID)
		return nil
	}

	question, err := p.marketQuestion(ctx, market)
	if err != nil {
		return p.failAttempt(ctx, conditionID, err)
	}

	askedAt := time.Now()
	decision, err := p.oracle.Decide(ctx, question, Outcomes)
	if err != nil {
		return p.failAttempt(ctx, conditionID, fmt.Errorf("oracle call failed: %w", err))
	}

	answer, reasoning, ok := resolveDecision(decision)
	if !ok {
		// Out-of-domain answer: reject the attempt, commit nothing on chain
		return p.failAttempt(ctx, conditionID,
			fmt.Errorf("oracle returned answer %q outside outcome set", *decision.Answer))
	}

	// Fire-and-forget: audit failures never affect settlement
	p.recordAudit(ctx, audit.Entry{
		ConditionID: conditionID,
		Question:    question,
		Answer:      answer,
		Reasoning:   reasoning,
		AskedAt:     askedAt,
		ResolvedAt:  time.Now(),
	})

	tokenID, err := p.ledger.OutcomeToken(ctx, conditionID, answer)
	if err != nil {
		return p.failAttempt(ctx, conditionID, fmt.Errorf("token resolution failed: %w", err))
	}

	sig, err := p.ledger.Settle(ctx, conditionID, tokenID)
	if err != nil {
		return p.failAttempt(ctx, conditionID, fmt.Errorf("settlement commit failed: %w", err))
	}

	log.Printf("[Pipeline] Settled market %s with outcome %s (token %s, tx %s)",
		conditionID, answer, tokenID, sig)

	if err := p.store.SetWinningToken(ctx, conditionID, tokenID); err != nil {
		return err
	}
	if err := p.store.SetLedgerStatus(ctx, conditionID, true, time.Now()); err != nil {
		return err
	}
	return p.store.MarkProcessed(ctx, conditionID)
}

// resolveDecision applies the default-outcome policy. An ambiguous verdict
// (nil answer) resolves to the negative outcome with an annotated reasoning;
// an answer outside the outcome set is rejected.
func resolveDecision(decision *oracle.Decision) (string, string, bool) {
	if decision.Answer == nil {
		reasoning := fmt.Sprintf("auto-resolved to %s (oracle could not determine): %s",
			DefaultOutcome, decision.Reasoning)
		return DefaultOutcome, reasoning, true
	}

	answer := *decision.Answer
	for _, outcome := range Outcomes {
		if answer == outcome {
			return answer, decision.Reasoning, true
		}
	}

	return "", "", false
}

// marketQuestion returns the stored question, fetching it from the ledger if
// the backfill has not caught up yet
func (p *Pipeline) marketQuestion(ctx context.Context, market *models.Market) (string, error) {
	if market.Question != nil && *market.Question != "" {
		return *market.Question, nil
	}

	question, err := p.ledger.GetQuestion(ctx, market.ConditionID)
	if err != nil {
		return "", fmt.Errorf("question unavailable: %w", err)
	}
	if err := p.store.SetQuestion(ctx, market.ConditionID, question); err != nil {
		return "", err
	}
	return question, nil
}

// recordExternalSettlement marks a market settled by someone else as processed
// and records the winning token best-effort
func (p *Pipeline) recordExternalSettlement(ctx context.Context, conditionID string) error {
	if token, err := p.ledger.WinningToken(ctx, conditionID); err != nil {
		log.Printf("[Pipeline] Could not fetch winning token for %s: %v", conditionID, err)
	} else if token != "" {
		if err := p.store.SetWinningToken(ctx, conditionID, token); err != nil {
			return err
		}
	}
	return p.store.MarkProcessed(ctx, conditionID)
}

// failAttempt abandons the current attempt and increments the retry counter.
// The store flips the market to exhausted when the ceiling is reached.
func (p *Pipeline) failAttempt(ctx context.Context, conditionID string, cause error) error {
	log.Printf("[Pipeline] Attempt failed for %s: %v", conditionID, cause)

	if err := p.store.IncrementRetry(ctx, conditionID); err != nil {
		return fmt.Errorf("failed to record retry for %s: %w (attempt error: %v)", conditionID, err, cause)
	}
	return cause
}

func (p *Pipeline) recordAudit(ctx context.Context, entry audit.Entry) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		log.Printf("[Pipeline] Audit record failed for %s: %v", entry.ConditionID, err)
	}
}
