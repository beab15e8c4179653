// Package ledger implements accounts, double-entry transactions, and the
// escrow lock/release/split lifecycle. It is the authority for escrow:
// every lock/release/split is a single Write Coordinator transaction
// pairing the domain rows with one committed event, matching §5's
// "BEGIN IMMEDIATE ... COMMIT" model via internal/store.Coordinator.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/identity"
	"github.com/agentyard/exchange/internal/metrics"
	"github.com/agentyard/exchange/internal/store"
)

// EscrowStatus enumerates escrow lifecycle states. Monotonic:
// locked -> released | split, never reversed.
type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowSplit    EscrowStatus = "split"
)

// Account holds one agent's balance. AgentID is also the account id.
type Account struct {
	AgentID   string    `json:"agent_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is a single ledger movement, debit or credit.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount"` // positive for credit, negative for debit
	Reference     string    `json:"reference"`
	CreatedAt     time.Time `json:"created_at"`
}

// Escrow holds funds locked against a task until release or split.
type Escrow struct {
	EscrowID   string       `json:"escrow_id"`
	TaskID     string       `json:"task_id"`
	AgentID    string       `json:"agent_id"` // the account the funds were locked from
	Amount     int64        `json:"amount"`
	Status     EscrowStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// Ledger is the ledger/escrow component.
type Ledger struct {
	store       *store.Store
	coordinator *store.Coordinator
	identity    *identity.Registry
	metrics     *metrics.Metrics
}

func New(s *store.Store, coord *store.Coordinator, idn *identity.Registry) *Ledger {
	return &Ledger{store: s, coordinator: coord, identity: idn}
}

// WithMetrics attaches a metrics sink for escrow operation counters. Optional:
// a Ledger with no metrics attached simply skips recording.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

func (l *Ledger) recordEscrowOp(kind, outcome string) {
	if l.metrics != nil {
		l.metrics.RecordEscrowOperation(kind, outcome)
	}
}

// CreateAccount verifies the agent exists, rejects a pre-existing
// account, inserts the account, and records an opening credit
// transaction if initialBalance > 0. Notary-only at the API boundary;
// this package does not itself check the caller's role (that's the
// signed-envelope/action check at the HTTP boundary), only the domain
// preconditions.
func (l *Ledger) CreateAccount(ctx context.Context, agentID string, initialBalance int64, now time.Time) (Account, *apperrors.ServiceError) {
	if initialBalance < 0 {
		return Account{}, apperrors.InvalidPayload("initial balance must be >= 0")
	}
	if _, svcErr := l.identity.Get(agentID); svcErr != nil {
		return Account{}, svcErr
	}

	var existing bool
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		existing, err = accountExists(tx, agentID)
		return err
	})
	if err != nil {
		return Account{}, apperrors.Internal("failed to check account existence", err)
	}
	if existing {
		return Account{}, apperrors.AccountExists(agentID)
	}

	account := Account{AgentID: agentID, Balance: initialBalance, CreatedAt: now}

	txErr := l.coordinator.Execute(ctx, store.BucketAccounts, func(tx *bolt.Tx) error {
		if err := store.PutJSON(tx, store.BucketAccounts, agentID, account); err != nil {
			return err
		}
		if initialBalance > 0 {
			txn := Transaction{
				TransactionID: "tx-" + uuid.NewString(),
				AccountID:     agentID,
				Amount:        initialBalance,
				Reference:     "opening-balance",
				CreatedAt:     now,
			}
			if err := store.PutJSON(tx, store.BucketTransactions, txn.TransactionID, txn); err != nil {
				return err
			}
		}
		_, err := events.Append(tx, "ledger", "account.created", "", agentID,
			"account created", map[string]interface{}{"initial_balance": initialBalance}, now)
		return err
	})
	if txErr != nil {
		return Account{}, apperrors.Internal("failed to create account", txErr)
	}
	return account, nil
}

// GetAccount reads a single account.
func (l *Ledger) GetAccount(agentID string) (Account, *apperrors.ServiceError) {
	var account Account
	var found bool
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		found, err = store.GetJSON(tx, store.BucketAccounts, agentID, &account)
		return err
	})
	if err != nil {
		return Account{}, apperrors.Internal("failed to read account", err)
	}
	if !found {
		return Account{}, apperrors.AccountNotFound(agentID)
	}
	return account, nil
}

// Credit applies (account_id, amount, reference). Idempotent on
// reference: a repeated reference for the same account returns the
// original transaction verbatim rather than double-crediting.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, reference string, now time.Time) (Transaction, *apperrors.ServiceError) {
	if amount <= 0 {
		return Transaction{}, apperrors.InvalidPayload("credit amount must be > 0")
	}

	var existing *Transaction
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		existing, err = findTransactionByReference(tx, accountID, reference)
		return err
	})
	if err != nil {
		return Transaction{}, apperrors.Internal("failed to check idempotency", err)
	}
	if existing != nil {
		return *existing, nil
	}

	if _, svcErr := l.GetAccount(accountID); svcErr != nil {
		return Transaction{}, svcErr
	}

	txn := Transaction{
		TransactionID: "tx-" + uuid.NewString(),
		AccountID:     accountID,
		Amount:        amount,
		Reference:     reference,
		CreatedAt:     now,
	}

	txErr := l.coordinator.Execute(ctx, store.BucketAccounts, func(tx *bolt.Tx) error {
		var account Account
		found, err := store.GetJSON(tx, store.BucketAccounts, accountID, &account)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("account %s disappeared mid-transaction", accountID)
		}
		account.Balance += amount
		if err := store.PutJSON(tx, store.BucketAccounts, accountID, account); err != nil {
			return err
		}
		if err := store.PutJSON(tx, store.BucketTransactions, txn.TransactionID, txn); err != nil {
			return err
		}
		_, err = events.Append(tx, "ledger", "credit.applied", "", accountID,
			"credit applied", map[string]interface{}{"amount": amount, "reference": reference}, now)
		return err
	})
	if txErr != nil {
		return Transaction{}, apperrors.Internal("failed to apply credit", txErr)
	}
	return txn, nil
}

// TotalAccounts and TotalEscrowed are derived on demand, per the spec's
// explicit "no cached counters" rule.

func (l *Ledger) TotalAccounts() (int, *apperrors.ServiceError) {
	var n int
	err := l.store.View(func(tx *bolt.Tx) error {
		var err error
		n, err = store.CountKeys(tx, store.BucketAccounts)
		return err
	})
	if err != nil {
		return 0, apperrors.Internal("failed to count accounts", err)
	}
	return n, nil
}

func (l *Ledger) TotalEscrowed() (int64, *apperrors.ServiceError) {
	var total int64
	err := l.store.View(func(tx *bolt.Tx) error {
		return store.ForEach(tx, store.BucketEscrows, func(_ string, raw []byte) error {
			esc, err := decodeEscrow(raw)
			if err != nil {
				return err
			}
			if esc.Status == EscrowLocked {
				total += esc.Amount
			}
			return nil
		})
	})
	if err != nil {
		return 0, apperrors.Internal("failed to sum escrowed funds", err)
	}
	return total, nil
}

func accountExists(tx *bolt.Tx, agentID string) (bool, error) {
	var account Account
	found, err := store.GetJSON(tx, store.BucketAccounts, agentID, &account)
	return found, err
}

func findTransactionByReference(tx *bolt.Tx, accountID, reference string) (*Transaction, error) {
	var found *Transaction
	err := store.ForEach(tx, store.BucketTransactions, func(_ string, raw []byte) error {
		if found != nil {
			return nil
		}
		var t Transaction
		if err := decodeInto(raw, &t); err != nil {
			return err
		}
		if t.AccountID == accountID && t.Reference == reference {
			found = &t
		}
		return nil
	})
	return found, err
}
