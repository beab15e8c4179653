package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/envelope"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/store"
)

// LockSigned is the Ledger half of task creation's "two signed tokens"
// flow (§4.3): the Task Board forwards the escrow_token verbatim so the
// Ledger independently verifies its own signature rather than trusting
// the Board's verification of the companion task_token. The signer of
// escrowToken becomes the escrow's payer; task_id and amount come from
// the token's own payload, not from the caller.
func (l *Ledger) LockSigned(ctx context.Context, lookup envelope.PublicKeyLookup, escrowToken string, now time.Time) (Escrow, *apperrors.ServiceError) {
	claims, svcErr := l.VerifyLockClaims(ctx, lookup, escrowToken)
	if svcErr != nil {
		return Escrow{}, svcErr
	}
	return l.Lock(ctx, claims.AgentID, claims.Amount, claims.TaskID, now)
}

// LockClaims is the decoded, verified payload of an escrow_lock envelope.
// VerifyLockClaims touches nothing in the store, so a caller that needs
// to cross-validate these claims against a companion token (§4.3's
// two-token task-creation flow) can do so before any write happens, and
// only call Lock once every check has passed.
type LockClaims struct {
	AgentID string
	Amount  int64
	TaskID  string
}

// VerifyLockClaims verifies escrowToken's signature and action claim and
// decodes its escrow_lock payload, without committing a lock.
func (l *Ledger) VerifyLockClaims(ctx context.Context, lookup envelope.PublicKeyLookup, escrowToken string) (LockClaims, *apperrors.ServiceError) {
	verified, svcErr := envelope.Verify(ctx, lookup, escrowToken)
	if svcErr != nil {
		return LockClaims{}, svcErr
	}
	if svcErr := envelope.RequireAction(verified, "escrow_lock"); svcErr != nil {
		return LockClaims{}, svcErr
	}
	taskID, _ := verified.Payload["task_id"].(string)
	if taskID == "" {
		return LockClaims{}, apperrors.MissingField("task_id")
	}
	amountFloat, ok := verified.Payload["amount"].(float64)
	if !ok || amountFloat <= 0 {
		return LockClaims{}, apperrors.InvalidFieldType("amount", "positive number")
	}
	return LockClaims{AgentID: verified.SignerID, Amount: int64(amountFloat), TaskID: taskID}, nil
}

// Lock implements escrow_lock(agent_id, amount, task_id). Caller has
// already verified signer == agent_id at the HTTP boundary; Lock only
// enforces domain preconditions: sufficient balance and no existing
// non-terminal escrow for task_id.
func (l *Ledger) Lock(ctx context.Context, agentID string, amount int64, taskID string, now time.Time) (Escrow, *apperrors.ServiceError) {
	if amount <= 0 {
		return Escrow{}, apperrors.InvalidPayload("escrow amount must be > 0")
	}

	account, svcErr := l.GetAccount(agentID)
	if svcErr != nil {
		return Escrow{}, svcErr
	}
	if account.Balance < amount {
		l.recordEscrowOp("lock", "insufficient_funds")
		return Escrow{}, apperrors.InsufficientFundsDomain(agentID, fmt.Sprint(amount), fmt.Sprint(account.Balance))
	}

	var existingLocked bool
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		existingLocked, err = taskHasNonTerminalEscrow(tx, taskID)
		return err
	})
	if err != nil {
		return Escrow{}, apperrors.Internal("failed to check existing escrow", err)
	}
	if existingLocked {
		l.recordEscrowOp("lock", "already_exists")
		return Escrow{}, apperrors.TaskEscrowExists(taskID)
	}

	escrow := Escrow{
		EscrowID:  "esc-" + uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		Amount:    amount,
		Status:    EscrowLocked,
		CreatedAt: now,
	}

	txErr := l.coordinator.Execute(ctx, store.BucketEscrows, func(tx *bolt.Tx) error {
		var acc Account
		found, err := store.GetJSON(tx, store.BucketAccounts, agentID, &acc)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("account %s disappeared mid-transaction", agentID)
		}
		if acc.Balance < amount {
			return apperrors.InsufficientFundsDomain(agentID, fmt.Sprint(amount), fmt.Sprint(acc.Balance))
		}
		acc.Balance -= amount
		if err := store.PutJSON(tx, store.BucketAccounts, agentID, acc); err != nil {
			return err
		}

		debit := Transaction{
			TransactionID: "tx-" + uuid.NewString(),
			AccountID:     agentID,
			Amount:        -amount,
			Reference:     "escrow-lock:" + escrow.EscrowID,
			CreatedAt:     now,
		}
		if err := store.PutJSON(tx, store.BucketTransactions, debit.TransactionID, debit); err != nil {
			return err
		}

		if err := store.PutJSON(tx, store.BucketEscrows, escrow.EscrowID, escrow); err != nil {
			return err
		}

		_, err = events.Append(tx, "ledger", "escrow.locked", taskID, agentID,
			"escrow locked", map[string]interface{}{"escrow_id": escrow.EscrowID, "amount": amount}, now)
		return err
	})
	if txErr != nil {
		l.recordEscrowOp("lock", "error")
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Escrow{}, svcErr
		}
		return Escrow{}, apperrors.Internal("failed to lock escrow", txErr)
	}
	l.recordEscrowOp("lock", "ok")
	return escrow, nil
}

// GetEscrow reads a single escrow.
func (l *Ledger) GetEscrow(escrowID string) (Escrow, *apperrors.ServiceError) {
	var esc Escrow
	var found bool
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketEscrows, escrowID, &esc)
		return err
	})
	if err != nil {
		return Escrow{}, apperrors.Internal("failed to read escrow", err)
	}
	if !found {
		return Escrow{}, apperrors.EscrowNotFound(escrowID)
	}
	return esc, nil
}

// Release implements escrow_release(escrow_id, recipient_id). Notary-only
// at the API boundary.
func (l *Ledger) Release(ctx context.Context, escrowID, recipientID string, now time.Time) (Escrow, *apperrors.ServiceError) {
	esc, svcErr := l.GetEscrow(escrowID)
	if svcErr != nil {
		return Escrow{}, svcErr
	}
	if esc.Status != EscrowLocked {
		l.recordEscrowOp("release", "already_resolved")
		return Escrow{}, apperrors.EscrowAlreadyResolved(escrowID, string(esc.Status))
	}
	if _, svcErr := l.GetAccount(recipientID); svcErr != nil {
		return Escrow{}, svcErr
	}

	txErr := l.coordinator.Execute(ctx, store.BucketEscrows, func(tx *bolt.Tx) error {
		var current Escrow
		found, err := store.GetJSON(tx, store.BucketEscrows, escrowID, &current)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("escrow %s disappeared mid-transaction", escrowID)
		}
		if current.Status != EscrowLocked {
			return apperrors.EscrowAlreadyResolved(escrowID, string(current.Status))
		}

		var recipient Account
		found, err = store.GetJSON(tx, store.BucketAccounts, recipientID, &recipient)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.AccountNotFound(recipientID)
		}
		recipient.Balance += current.Amount
		if err := store.PutJSON(tx, store.BucketAccounts, recipientID, recipient); err != nil {
			return err
		}

		credit := Transaction{
			TransactionID: "tx-" + uuid.NewString(),
			AccountID:     recipientID,
			Amount:        current.Amount,
			Reference:     "escrow-release:" + escrowID,
			CreatedAt:     now,
		}
		if err := store.PutJSON(tx, store.BucketTransactions, credit.TransactionID, credit); err != nil {
			return err
		}

		current.Status = EscrowReleased
		resolvedAt := now
		current.ResolvedAt = &resolvedAt
		if err := store.PutJSON(tx, store.BucketEscrows, escrowID, current); err != nil {
			return err
		}
		esc = current

		_, err = events.Append(tx, "ledger", "escrow.released", current.TaskID, recipientID,
			"escrow released", map[string]interface{}{"escrow_id": escrowID, "amount": current.Amount}, now)
		return err
	})
	if txErr != nil {
		l.recordEscrowOp("release", "error")
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Escrow{}, svcErr
		}
		return Escrow{}, apperrors.Internal("failed to release escrow", txErr)
	}
	l.recordEscrowOp("release", "ok")
	return esc, nil
}

// Split implements escrow_split(escrow_id, worker_id, poster_id,
// worker_pct). worker_amount = floor(total*pct/100); poster_amount =
// total - worker_amount, guaranteeing they sum to total exactly.
// Notary-only at the API boundary.
func (l *Ledger) Split(ctx context.Context, escrowID, workerID, posterID string, workerPct int, now time.Time) (Escrow, *apperrors.ServiceError) {
	if workerPct < 0 || workerPct > 100 {
		return Escrow{}, apperrors.InvalidPayload("worker_pct must be in [0,100]")
	}

	esc, svcErr := l.GetEscrow(escrowID)
	if svcErr != nil {
		return Escrow{}, svcErr
	}
	if esc.Status != EscrowLocked {
		l.recordEscrowOp("split", "already_resolved")
		return Escrow{}, apperrors.EscrowAlreadyResolved(escrowID, string(esc.Status))
	}
	if _, svcErr := l.GetAccount(workerID); svcErr != nil {
		return Escrow{}, svcErr
	}
	if _, svcErr := l.GetAccount(posterID); svcErr != nil {
		return Escrow{}, svcErr
	}

	workerAmount := esc.Amount * int64(workerPct) / 100
	posterAmount := esc.Amount - workerAmount

	txErr := l.coordinator.Execute(ctx, store.BucketEscrows, func(tx *bolt.Tx) error {
		var current Escrow
		found, err := store.GetJSON(tx, store.BucketEscrows, escrowID, &current)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("escrow %s disappeared mid-transaction", escrowID)
		}
		if current.Status != EscrowLocked {
			return apperrors.EscrowAlreadyResolved(escrowID, string(current.Status))
		}

		if err := applyCredit(tx, workerID, workerAmount, "escrow-split-worker:"+escrowID, now); err != nil {
			return err
		}
		if err := applyCredit(tx, posterID, posterAmount, "escrow-split-poster:"+escrowID, now); err != nil {
			return err
		}

		current.Status = EscrowSplit
		resolvedAt := now
		current.ResolvedAt = &resolvedAt
		if err := store.PutJSON(tx, store.BucketEscrows, escrowID, current); err != nil {
			return err
		}
		esc = current

		_, err = events.Append(tx, "ledger", "escrow.split", current.TaskID, "",
			"escrow split", map[string]interface{}{
				"escrow_id":     escrowID,
				"worker_id":     workerID,
				"poster_id":     posterID,
				"worker_amount": workerAmount,
				"poster_amount": posterAmount,
			}, now)
		return err
	})
	if txErr != nil {
		l.recordEscrowOp("split", "error")
		if svcErr, ok := txErr.(*apperrors.ServiceError); ok {
			return Escrow{}, svcErr
		}
		return Escrow{}, apperrors.Internal("failed to split escrow", txErr)
	}
	l.recordEscrowOp("split", "ok")
	return esc, nil
}

// applyCredit credits accountID by amount within an in-flight
// transaction, skipping zero-amount credits (a 0% share is valid and
// should not fabricate a zero-value transaction row).
func applyCredit(tx *bolt.Tx, accountID string, amount int64, reference string, now time.Time) error {
	if amount == 0 {
		return nil
	}
	var account Account
	found, err := store.GetJSON(tx, store.BucketAccounts, accountID, &account)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.AccountNotFound(accountID)
	}
	account.Balance += amount
	if err := store.PutJSON(tx, store.BucketAccounts, accountID, account); err != nil {
		return err
	}
	txn := Transaction{
		TransactionID: "tx-" + uuid.NewString(),
		AccountID:     accountID,
		Amount:        amount,
		Reference:     reference,
		CreatedAt:     now,
	}
	return store.PutJSON(tx, store.BucketTransactions, txn.TransactionID, txn)
}

func taskHasNonTerminalEscrow(tx *bolt.Tx, taskID string) (bool, error) {
	found := false
	err := store.ForEach(tx, store.BucketEscrows, func(_ string, raw []byte) error {
		if found {
			return nil
		}
		esc, err := decodeEscrow(raw)
		if err != nil {
			return err
		}
		if esc.TaskID == taskID && esc.Status == EscrowLocked {
			found = true
		}
		return nil
	})
	return found, err
}
