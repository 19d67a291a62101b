// Package customerdb contains customer related CRUD functionality on
// PostgreSQL. Mutations rely on the row lock taken by QueryByIDForUpdate.
package customerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rschio/ledger/internal/core/customer"
	db "github.com/rschio/ledger/internal/data/dbsql/pgx"
)

// Store manages the set of APIs for customer database access.
type Store struct {
	log *slog.Logger
	db  db.DB
}

// NewStore constructs the api for data access. database is either a pool or
// a transaction.
func NewStore(log *slog.Logger, database db.DB) *Store {
	return &Store{
		log: log,
		db:  database,
	}
}

// ExecUnderTx runs fn inside a database transaction, nested calls use a
// savepoint. Any error from fn rolls back every write made through txStore
// and releases the row locks.
func (s *Store) ExecUnderTx(ctx context.Context, fn func(txStore customer.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// A canceled request must still roll back.
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(NewStore(s.log, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// QueryByIDForUpdate gets the customer and locks its row until the enclosing
// transaction ends. Other lockers of the same row block meanwhile.
func (s *Store) QueryByIDForUpdate(ctx context.Context, customerID int) (customer.Customer, error) {
	data := struct {
		ID int `db:"id"`
	}{
		ID: customerID,
	}

	const q = `
	SELECT
		id, name, credit_limit, balance
	FROM
		customers
	WHERE
		id = @id
	FOR UPDATE`

	return s.queryCustomer(ctx, q, data)
}

// QueryByID gets the customer without locking it.
func (s *Store) QueryByID(ctx context.Context, customerID int) (customer.Customer, error) {
	data := struct {
		ID int `db:"id"`
	}{
		ID: customerID,
	}

	const q = `
	SELECT
		id, name, credit_limit, balance
	FROM
		customers
	WHERE
		id = @id`

	return s.queryCustomer(ctx, q, data)
}

func (s *Store) queryCustomer(ctx context.Context, q string, data any) (customer.Customer, error) {
	c, err := db.NamedQueryStruct[dbCustomer](ctx, s.log, s.db, q, data)
	if err != nil {
		if errors.Is(err, db.ErrDBNotFound) {
			return customer.Customer{}, customer.ErrNotFound
		}
		return customer.Customer{}, fmt.Errorf("namedquerystruct: %w", err)
	}

	return toCustomer(c), nil
}

// QueryIDs returns the ids of every customer in ascending order.
func (s *Store) QueryIDs(ctx context.Context) ([]int, error) {
	const q = `
	SELECT
		id
	FROM
		customers
	ORDER BY
		id`

	ids, err := db.NamedQuerySlice[dbID](ctx, s.log, s.db, q, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", err)
	}

	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = id.ID
	}

	return out, nil
}

// UpdateBalance sets the customer balance. It must be called under the lock
// taken by QueryByIDForUpdate.
func (s *Store) UpdateBalance(ctx context.Context, customerID int, balance int) error {
	data := struct {
		ID      int `db:"id"`
		Balance int `db:"balance"`
	}{
		ID:      customerID,
		Balance: balance,
	}

	const q = `
	UPDATE
		customers
	SET
		balance = @balance
	WHERE
		id = @id`

	if err := db.NamedExec(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexec: %w", err)
	}

	return nil
}

// AddTransaction inserts t and returns the id assigned by the database.
func (s *Store) AddTransaction(ctx context.Context, t customer.Transaction) (int64, error) {
	const q = `
	INSERT INTO transactions
		(customer_id, amount, type, description, created_at)
	VALUES
		(@customer_id, @amount, @type, @description, @created_at)
	RETURNING id`

	id, err := db.NamedQueryStruct[dbID64](ctx, s.log, s.db, q, toDBTransaction(t))
	if err != nil {
		return 0, fmt.Errorf("namedquerystruct: %w", err)
	}

	return id.ID, nil
}

// QueryTransactions returns a page of the customer's transactions ordered by
// insertion, newest first.
func (s *Store) QueryTransactions(ctx context.Context, customerID int, pageNumber, rowsPerPage int) ([]customer.Transaction, error) {
	data := struct {
		CustomerID  int `db:"customer_id"`
		Offset      int `db:"offset"`
		RowsPerPage int `db:"rows_per_page"`
	}{
		CustomerID:  customerID,
		Offset:      (pageNumber - 1) * rowsPerPage,
		RowsPerPage: rowsPerPage,
	}

	const q = `
	SELECT
		id, customer_id, amount, type, description, created_at
	FROM
		transactions
	WHERE
		customer_id = @customer_id
	ORDER BY
		id DESC
	OFFSET @offset ROWS FETCH NEXT @rows_per_page ROWS ONLY`

	ts, err := db.NamedQuerySlice[dbTransaction](ctx, s.log, s.db, q, data)
	if err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", err)
	}

	return toTransactions(ts), nil
}
