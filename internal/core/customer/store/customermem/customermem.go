// Package customermem is an in-process customer store. Every customer row has
// an exclusive lock that a unit of work holds from QueryByIDForUpdate until it
// commits or rolls back. Writes made under a unit of work are staged and only
// become visible on commit.
package customermem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rschio/ledger/internal/core/customer"
)

// Set of store errors, mirroring the constraints of the SQL schema.
var (
	ErrCheckViolation      = errors.New("check constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrNotLocked           = errors.New("row is not locked by the unit of work")
)

// Seed is the default set of customers.
func Seed() []customer.Customer {
	return []customer.Customer{
		{ID: 1, Name: "o barato sai caro", Limit: 1000 * 100},
		{ID: 2, Name: "zan corp ltda", Limit: 800 * 100},
		{ID: 3, Name: "les cruders", Limit: 10000 * 100},
		{ID: 4, Name: "padaria joia de cocaia", Limit: 100000 * 100},
		{ID: 5, Name: "kid mais", Limit: 5000 * 100},
	}
}

type row struct {
	lock     chan struct{}
	customer customer.Customer
}

type state struct {
	mu           sync.Mutex
	rows         map[int]*row
	transactions map[int][]customer.Transaction
	nextID       int64
}

// unit is the state of one unit of work.
type unit struct {
	locked   map[int]*row
	order    []int
	balances map[int]int
	inserts  []customer.Transaction
}

type Store struct {
	log *slog.Logger
	st  *state
	u   *unit
}

func NewStore(log *slog.Logger, seed []customer.Customer) *Store {
	st := state{
		rows:         make(map[int]*row, len(seed)),
		transactions: make(map[int][]customer.Transaction),
	}
	for _, c := range seed {
		st.rows[c.ID] = &row{
			lock:     make(chan struct{}, 1),
			customer: c,
		}
	}

	return &Store{log: log, st: &st}
}

func (s *Store) ExecUnderTx(ctx context.Context, fn func(txStore customer.Store) error) error {
	// Nested units of work join the outer one.
	if s.u != nil {
		return fn(s)
	}

	u := unit{
		locked:   make(map[int]*row),
		balances: make(map[int]int),
	}
	defer u.release()

	if err := fn(&Store{log: s.log, st: s.st, u: &u}); err != nil {
		s.log.InfoContext(ctx, "memdb.rollback", "locked", u.order, "ERROR", err)
		return err
	}

	s.commit(&u)
	return nil
}

func (s *Store) commit(u *unit) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for id, b := range u.balances {
		s.st.rows[id].customer.Balance = b
	}
	for _, t := range u.inserts {
		s.st.transactions[t.CustomerID] = append(s.st.transactions[t.CustomerID], t)
	}
}

func (u *unit) release() {
	for i := len(u.order) - 1; i >= 0; i-- {
		<-u.locked[u.order[i]].lock
	}
}

func (s *Store) QueryByIDForUpdate(ctx context.Context, customerID int) (customer.Customer, error) {
	r, ok := s.st.rows[customerID]
	if !ok {
		return customer.Customer{}, customer.ErrNotFound
	}

	if s.u != nil {
		if _, held := s.u.locked[customerID]; !held {
			select {
			case r.lock <- struct{}{}:
			case <-ctx.Done():
				return customer.Customer{}, fmt.Errorf("waiting lock on customer[%d]: %w", customerID, ctx.Err())
			}
			s.u.locked[customerID] = r
			s.u.order = append(s.u.order, customerID)
		}
	}

	return s.QueryByID(ctx, customerID)
}

func (s *Store) QueryByID(ctx context.Context, customerID int) (customer.Customer, error) {
	s.st.mu.Lock()
	r, ok := s.st.rows[customerID]
	var c customer.Customer
	if ok {
		c = r.customer
	}
	s.st.mu.Unlock()

	if !ok {
		return customer.Customer{}, customer.ErrNotFound
	}

	if s.u != nil {
		if b, staged := s.u.balances[customerID]; staged {
			c.Balance = b
		}
	}

	return c, nil
}

func (s *Store) QueryIDs(ctx context.Context) ([]int, error) {
	ids := make([]int, 0, len(s.st.rows))
	for id := range s.st.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids, nil
}

func (s *Store) UpdateBalance(ctx context.Context, customerID int, balance int) error {
	r, ok := s.st.rows[customerID]
	if !ok {
		return nil
	}

	if balance < -r.customer.Limit || balance > customer.MaxAmount {
		return fmt.Errorf("customer[%d] balance %d: %w", customerID, balance, ErrCheckViolation)
	}

	if s.u == nil {
		s.st.mu.Lock()
		r.customer.Balance = balance
		s.st.mu.Unlock()
		return nil
	}

	if _, held := s.u.locked[customerID]; !held {
		return fmt.Errorf("update customer[%d]: %w", customerID, ErrNotLocked)
	}
	s.u.balances[customerID] = balance

	return nil
}

func (s *Store) AddTransaction(ctx context.Context, t customer.Transaction) (int64, error) {
	if _, ok := s.st.rows[t.CustomerID]; !ok {
		return 0, fmt.Errorf("customer[%d]: %w", t.CustomerID, ErrForeignKeyViolation)
	}
	if t.Value <= 0 || t.Value > customer.MaxAmount {
		return 0, fmt.Errorf("amount %d: %w", t.Value, ErrCheckViolation)
	}

	// Like a database sequence, ids taken by rolled back units are not reused.
	s.st.mu.Lock()
	s.st.nextID++
	t.ID = s.st.nextID
	if s.u == nil {
		s.st.transactions[t.CustomerID] = append(s.st.transactions[t.CustomerID], t)
	}
	s.st.mu.Unlock()

	if s.u != nil {
		s.u.inserts = append(s.u.inserts, t)
	}

	return t.ID, nil
}

func (s *Store) QueryTransactions(ctx context.Context, customerID int, pageNumber, rowsPerPage int) ([]customer.Transaction, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	all := s.st.transactions[customerID]
	offset := (pageNumber - 1) * rowsPerPage
	if offset < 0 || rowsPerPage <= 0 || offset >= len(all) {
		return []customer.Transaction{}, nil
	}

	// Transactions are appended in id order.
	n := min(rowsPerPage, len(all)-offset)
	out := make([]customer.Transaction, n)
	for i := range out {
		out[i] = all[len(all)-1-offset-i]
	}

	return out, nil
}
