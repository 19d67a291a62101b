// Package customer provides the ledger business logic: applying credit and
// debit transactions to a customer's balance and reading its statement.
package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rschio/ledger/internal/web"
	"go.opentelemetry.io/otel/attribute"
)

// StatementSize is the number of transactions returned by Statement.
const StatementSize = 10

const maxDescriptionLen = 10

// MaxAmount bounds both amounts and balances, the store keeps them as 32 bit
// integers.
const MaxAmount = math.MaxInt32

// Store is used to persist customer's data.
type Store interface {
	// ExecUnderTx executes the fn function under a transaction. If fn returns
	// an error the transaction is rolled back and the error is returned.
	ExecUnderTx(ctx context.Context, fn func(tx Store) error) error

	// QueryByIDForUpdate reads the customer holding an exclusive lock on it
	// until the enclosing transaction ends.
	QueryByIDForUpdate(ctx context.Context, customerID int) (Customer, error)
	QueryByID(ctx context.Context, customerID int) (Customer, error)
	QueryIDs(ctx context.Context) ([]int, error)
	UpdateBalance(ctx context.Context, customerID int, balance int) error
	AddTransaction(ctx context.Context, t Transaction) (int64, error)

	// QueryTransactions returns the customer's transactions, newest first.
	QueryTransactions(ctx context.Context, customerID int, pageNumber, rowsPerPage int) ([]Transaction, error)
}

// Directory knows the set of seeded customers. It is consulted before any
// lock is taken, the locked read remains authoritative.
type Directory interface {
	Exists(ctx context.Context, customerID int) (bool, error)
}

// Loader is implemented by directories that are filled from the store.
type Loader interface {
	Load(ctx context.Context, ids []int) error
}

// Core deals with customer's business logic.
type Core struct {
	log   *slog.Logger
	store Store
	dir   Directory
}

// NewCore constructs a Core. A nil dir disables the pre-lock existence check.
func NewCore(log *slog.Logger, store Store, dir Directory) *Core {
	return &Core{
		log:   log,
		store: store,
		dir:   dir,
	}
}

// LoadDirectory fills the directory with the ids found in the store, if the
// directory supports it.
func (c *Core) LoadDirectory(ctx context.Context) error {
	l, ok := c.dir.(Loader)
	if !ok {
		return nil
	}

	ids, err := c.store.QueryIDs(ctx)
	if err != nil {
		return fmt.Errorf("query ids: %w", err)
	}

	if err := l.Load(ctx, ids); err != nil {
		return fmt.Errorf("load directory: %w", err)
	}

	return nil
}

// QueryByID returns the customer without locking it.
func (c *Core) QueryByID(ctx context.Context, customerID int) (Customer, error) {
	if err := c.checkExists(ctx, customerID); err != nil {
		return Customer{}, err
	}

	cus, err := c.store.QueryByID(ctx, customerID)
	if err != nil {
		return Customer{}, fmt.Errorf("query customer[%d]: %w", customerID, err)
	}

	return cus, nil
}

// AddTransaction validates nt and applies it to the customer balance as a
// single unit of work. Concurrent calls for the same customer are serialized
// by the customer lock. It returns the customer as committed.
func (c *Core) AddTransaction(ctx context.Context, customerID int, nt NewTransaction) (Customer, error) {
	ctx, span := web.AddSpan(ctx, "core.customer.AddTransaction",
		attribute.Int("customer_id", customerID),
		attribute.String("type", string(nt.Type)),
	)
	defer span.End()

	if err := c.checkExists(ctx, customerID); err != nil {
		return Customer{}, err
	}
	if err := nt.validate(); err != nil {
		return Customer{}, err
	}

	t := Transaction{
		CustomerID:  customerID,
		Value:       nt.Value,
		Type:        nt.Type,
		Description: nt.Description,
		Date:        web.GetTime(ctx).Round(time.Microsecond),
	}

	var cus Customer
	fn := func(tx Store) error {
		var err error
		cus, err = tx.QueryByIDForUpdate(ctx, customerID)
		if err != nil {
			return err
		}

		newBalance, err := apply(cus, t)
		if err != nil {
			return err
		}

		if err := tx.UpdateBalance(ctx, customerID, newBalance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		if t.ID, err = tx.AddTransaction(ctx, t); err != nil {
			return fmt.Errorf("failed to add transaction: %w", err)
		}

		cus.Balance = newBalance
		return nil
	}

	if err := c.store.ExecUnderTx(ctx, fn); err != nil {
		return Customer{}, err
	}

	return cus, nil
}

// Statement returns the customer's balance and its last StatementSize
// transactions. The reads take no lock, an in-flight AddTransaction may or
// may not be reflected.
func (c *Core) Statement(ctx context.Context, customerID int) (Statement, error) {
	ctx, span := web.AddSpan(ctx, "core.customer.Statement",
		attribute.Int("customer_id", customerID),
	)
	defer span.End()

	if err := c.checkExists(ctx, customerID); err != nil {
		return Statement{}, err
	}

	cus, err := c.store.QueryByID(ctx, customerID)
	if err != nil {
		return Statement{}, fmt.Errorf("query customer[%d]: %w", customerID, err)
	}

	ts, err := c.store.QueryTransactions(ctx, customerID, 1, StatementSize)
	if err != nil {
		return Statement{}, fmt.Errorf("query transactions[%d]: %w", customerID, err)
	}

	return Statement{
		Balance:          cus.Balance,
		Limit:            cus.Limit,
		Date:             web.GetTime(ctx),
		LastTransactions: ts,
	}, nil
}

func (c *Core) checkExists(ctx context.Context, customerID int) error {
	if c.dir == nil {
		return nil
	}

	ok, err := c.dir.Exists(ctx, customerID)
	if err != nil {
		// The locked read decides.
		c.log.WarnContext(ctx, "customer directory", "customer_id", customerID, "ERROR", err)
		return nil
	}
	if !ok {
		return ErrNotFound
	}

	return nil
}

// apply returns the balance of c after t. A debit may take the balance down
// to -c.Limit and no further.
func apply(c Customer, t Transaction) (int, error) {
	switch t.Type {
	case Credit:
		if c.Balance > MaxAmount-t.Value {
			return 0, invalidAttribute("amount")
		}
		return c.Balance + t.Value, nil
	case Debit:
		if t.Value > c.Balance+c.Limit {
			return 0, ErrInsufficientFunds
		}
		return c.Balance - t.Value, nil
	}

	return 0, invalidAttribute("type")
}

func (nt NewTransaction) validate() error {
	switch {
	case !nt.Type.valid():
		return invalidAttribute("type")
	case strings.TrimSpace(nt.Description) == "":
		return invalidAttribute("description")
	case utf8.RuneCountInString(nt.Description) > maxDescriptionLen:
		return invalidAttribute("description")
	case nt.Value <= 0 || nt.Value > MaxAmount:
		return invalidAttribute("amount")
	}

	return nil
}

// IsClientError reports whether err is one of the customer API errors, as
// opposed to a store or infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientFunds)
}
