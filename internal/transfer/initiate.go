package transfer

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/pborman/uuid"

	"github.com/chainbridge-x/engine/internal/bridgeerr"
	"github.com/chainbridge-x/engine/internal/model"
	"github.com/chainbridge-x/engine/internal/safety"
	"github.com/chainbridge-x/engine/internal/store"
)

// chainBAddressPattern is a syntactic placeholder for the non-EVM Chain-B
// address format; adapters that need stricter validation should reject in
// SubmitRelease/SubmitMint and surface adapter_error, but the pipeline
// still does a cheap sanity check up front per spec §4.1's
// "target_recipient passes the syntactic check" requirement.
var chainBAddressPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// InitiateDeposit is the synchronous "initiate deposit" contract of spec
// §4.1: `(source_token, value, target_recipient) -> source_tx_hash`. The
// first four error kinds (unsupported_token, invalid_recipient,
// emergency_halt, rate_limited/blocklisted/value_exceeds_cap) surface
// synchronously; adapter_error moves the row to FAILED with a retry
// scheduled and is also returned to the caller.
func (p *Pipeline) InitiateDeposit(ctx context.Context, sourceToken, value, sourceHolder, targetRecipient string) (sourceTxHash string, err error) {
	return p.initiate(ctx, model.DirectionDeposit, sourceToken, value, sourceHolder, targetRecipient)
}

// InitiateWithdrawal is the symmetric contract: Chain-B burn then Chain-A
// release.
func (p *Pipeline) InitiateWithdrawal(ctx context.Context, sourceToken, value, sourceHolder, targetRecipient string) (sourceTxHash string, err error) {
	return p.initiate(ctx, model.DirectionWithdrawal, sourceToken, value, sourceHolder, targetRecipient)
}

func (p *Pipeline) initiate(ctx context.Context, direction model.Direction, sourceToken, value, sourceHolder, targetRecipient string) (string, error) {
	if !chainBAddressPattern.MatchString(targetRecipient) {
		return "", fmt.Errorf("%w: %s", bridgeerr.ErrInvalidRecipient, targetRecipient)
	}
	if err := p.tokens.CheckDirectionEnabled(sourceToken, direction); err != nil {
		return "", err
	}

	if err := p.safety.Admit(ctx, safety.AdmitRequest{
		Direction: direction, Principal: sourceHolder, Token: sourceToken, Value: value,
	}); err != nil {
		return "", err
	}

	now := time.Now()
	t := &model.Transfer{
		ID:            fmt.Sprintf("%s-%s", direction, uuid.New()),
		Direction:     direction,
		Status:        model.StatusPending,
		SourceAddress: sourceHolder,
		SourceToken:   sourceToken,
		TargetAddress: targetRecipient,
		Value:         value,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	source := p.sourceAdapter(direction)
	if direction == model.DirectionDeposit {
		t.SourceChain, t.TargetChain = string(source.Tag()), ""
	}
	if err := p.st.CreateTransfer(ctx, t); err != nil {
		return "", fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, err)
	}

	var txHash string
	var submitErr error
	if direction == model.DirectionDeposit {
		txHash, submitErr = source.SubmitLock(ctx, sourceHolder, sourceToken, value)
	} else {
		txHash, submitErr = source.SubmitBurn(ctx, sourceHolder, sourceToken, value, 0)
	}
	if submitErr != nil {
		p.fail(ctx, t, model.StatusPending, fmt.Errorf("submit: %w", submitErr), true)
		return "", fmt.Errorf("%w: %v", bridgeerr.ErrAdapterError, submitErr)
	}

	err := p.st.UpdateTransferStatus(ctx, t.ID, model.StatusPending, model.StatusProcessing, func(tr *model.Transfer) {
		tr.SourceTxHash = txHash
	})
	if err != nil && err != store.ErrConflict {
		logger.Error("transition to PROCESSING failed after submit", "id", t.ID, "err", err)
	}
	return txHash, nil
}
