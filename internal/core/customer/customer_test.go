package customer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rschio/ledger/internal/core/customer"
	"github.com/rschio/ledger/internal/core/customer/store/customerdb"
	"github.com/rschio/ledger/internal/core/customer/store/customermem"
	"github.com/rschio/ledger/internal/data/dbtest"
	"github.com/rschio/ledger/internal/web"
)

func newMemCore(t *testing.T, seed ...customer.Customer) *customer.Core {
	t.Helper()

	var buf bytes.Buffer
	t.Cleanup(func() {
		if t.Failed() {
			t.Log(buf.String())
		}
	})
	log := slog.New(slog.NewTextHandler(&buf, nil))

	if len(seed) == 0 {
		seed = customermem.Seed()
	}
	return customer.NewCore(log, customermem.NewStore(log, seed), customer.IDRange{Min: 1, Max: 5})
}

func TestAddTransactionExample(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t, customer.Customer{ID: 1, Limit: 1000})

	c, err := core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 500, Type: customer.Credit, Description: "dep"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if c.Balance != 500 || c.Limit != 1000 {
		t.Fatalf("got %+v want balance 500 limit 1000", c)
	}

	c, err = core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 1400, Type: customer.Debit, Description: "buy"})
	if err != nil {
		t.Fatalf("debit within limit: %v", err)
	}
	if c.Balance != -900 {
		t.Fatalf("got balance %d want -900", c.Balance)
	}

	_, err = core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 200, Type: customer.Debit, Description: "buy2"})
	if !errors.Is(err, customer.ErrInsufficientFunds) {
		t.Fatalf("got %v want %v", err, customer.ErrInsufficientFunds)
	}

	st, err := core.Statement(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Balance != -900 {
		t.Errorf("denied debit changed the balance: %d", st.Balance)
	}
	if len(st.LastTransactions) != 2 {
		t.Errorf("denied debit was recorded: %d transactions", len(st.LastTransactions))
	}
}

func TestAddTransactionDebitToExactLimit(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t)

	c, err := core.AddTransaction(ctx, 2, customer.NewTransaction{Value: 80000, Type: customer.Debit, Description: "all"})
	if err != nil {
		t.Fatalf("debit to the limit: %v", err)
	}
	if c.Balance != -80000 {
		t.Fatalf("got balance %d want %d", c.Balance, -80000)
	}

	_, err = core.AddTransaction(ctx, 2, customer.NewTransaction{Value: 1, Type: customer.Debit, Description: "one"})
	if !errors.Is(err, customer.ErrInsufficientFunds) {
		t.Fatalf("got %v want %v", err, customer.ErrInsufficientFunds)
	}
}

func TestAddTransactionValidation(t *testing.T) {
	tests := []struct {
		name       string
		customerID int
		nt         customer.NewTransaction
		wantErr    error
		wantField  string
	}{
		{"unknown customer", 99, customer.NewTransaction{Value: 10, Type: customer.Credit, Description: "x"}, customer.ErrNotFound, ""},
		{"zero customer", 0, customer.NewTransaction{Value: 10, Type: customer.Credit, Description: "x"}, customer.ErrNotFound, ""},
		{"unknown customer before bad type", 6, customer.NewTransaction{Value: 10, Type: "x", Description: "x"}, customer.ErrNotFound, ""},
		{"bad type", 1, customer.NewTransaction{Value: 10, Type: "credit", Description: "x"}, customer.ErrInvalidArgument, "type"},
		{"empty type", 1, customer.NewTransaction{Value: 10, Description: "x"}, customer.ErrInvalidArgument, "type"},
		{"long description", 1, customer.NewTransaction{Value: 10, Type: customer.Credit, Description: "this description is too long"}, customer.ErrInvalidArgument, "description"},
		{"empty description", 1, customer.NewTransaction{Value: 10, Type: customer.Debit, Description: ""}, customer.ErrInvalidArgument, "description"},
		{"blank description", 1, customer.NewTransaction{Value: 10, Type: customer.Debit, Description: "   "}, customer.ErrInvalidArgument, "description"},
		{"type before description", 1, customer.NewTransaction{Value: 10, Type: "z", Description: ""}, customer.ErrInvalidArgument, "type"},
		{"zero amount", 1, customer.NewTransaction{Value: 0, Type: customer.Credit, Description: "x"}, customer.ErrInvalidArgument, "amount"},
		{"negative amount", 1, customer.NewTransaction{Value: -10, Type: customer.Debit, Description: "x"}, customer.ErrInvalidArgument, "amount"},
		{"amount above int32", 1, customer.NewTransaction{Value: 3000000000, Type: customer.Credit, Description: "x"}, customer.ErrInvalidArgument, "amount"},
		{"debit above int32", 1, customer.NewTransaction{Value: math.MaxInt64, Type: customer.Debit, Description: "x"}, customer.ErrInvalidArgument, "amount"},
	}

	ctx := context.Background()
	core := newMemCore(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.AddTransaction(ctx, tt.customerID, tt.nt)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v want %v", err, tt.wantErr)
			}

			var fe *customer.FieldError
			if tt.wantField != "" {
				if !errors.As(err, &fe) || fe.Field != tt.wantField {
					t.Fatalf("got %v want field %q", err, tt.wantField)
				}
			}
			if !customer.IsClientError(err) {
				t.Errorf("%v should be a client error", err)
			}
		})
	}

	for id := 1; id <= 5; id++ {
		st, err := core.Statement(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if st.Balance != 0 || len(st.LastTransactions) != 0 {
			t.Errorf("customer %d mutated by invalid requests: %+v", id, st)
		}
	}
}

func TestCreditBalanceOverflow(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t)

	c, err := core.AddTransaction(ctx, 1, customer.NewTransaction{Value: customer.MaxAmount, Type: customer.Credit, Description: "max"})
	if err != nil {
		t.Fatalf("credit of the max amount: %v", err)
	}
	if c.Balance != customer.MaxAmount {
		t.Fatalf("got balance %d want %d", c.Balance, customer.MaxAmount)
	}

	_, err = core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 1, Type: customer.Credit, Description: "one"})
	var fe *customer.FieldError
	if !errors.As(err, &fe) || fe.Field != "amount" {
		t.Fatalf("got %v want invalid amount", err)
	}

	st, err := core.Statement(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Balance != customer.MaxAmount || len(st.LastTransactions) != 1 {
		t.Fatalf("rejected credit mutated the customer: %+v", st)
	}
}

func TestDescriptionCountsRunes(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t)

	// Ten runes, more than ten bytes.
	if _, err := core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 1, Type: customer.Credit, Description: "pão pão pã"}); err != nil {
		t.Fatalf("ten rune description: %v", err)
	}
}

type fakeDirectory struct {
	err error
}

func (d fakeDirectory) Exists(context.Context, int) (bool, error) {
	return false, d.err
}

func TestDirectoryFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	core := customer.NewCore(log, customermem.NewStore(log, customermem.Seed()), fakeDirectory{err: errors.New("down")})

	if _, err := core.AddTransaction(ctx, 1, customer.NewTransaction{Value: 1, Type: customer.Credit, Description: "x"}); err != nil {
		t.Fatalf("known customer: %v", err)
	}
	if _, err := core.AddTransaction(ctx, 9, customer.NewTransaction{Value: 1, Type: customer.Credit, Description: "x"}); !errors.Is(err, customer.ErrNotFound) {
		t.Fatalf("locked read should decide, got %v", err)
	}
	if _, err := core.Statement(ctx, 9); !errors.Is(err, customer.ErrNotFound) {
		t.Fatalf("statement of unknown customer: got %v", err)
	}
}

func TestStatementRoundTrip(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t)

	customerID := 3
	var sent []customer.Transaction
	var last customer.Customer
	for i := range 15 {
		now := time.Date(2024, 2, 1, 0, 0, i, 0, time.UTC)
		ctx := web.SetValues(ctx, &web.Values{Now: now})

		nt := customer.NewTransaction{Value: i + 1, Type: customer.Credit, Description: fmt.Sprintf("t%d", i)}
		if i%3 == 0 {
			nt.Type = customer.Debit
		}

		var err error
		last, err = core.AddTransaction(ctx, customerID, nt)
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		sent = append(sent, customer.Transaction{
			CustomerID:  customerID,
			Value:       nt.Value,
			Type:        nt.Type,
			Description: nt.Description,
			Date:        now,
		})
	}

	st, err := core.Statement(ctx, customerID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Balance != last.Balance || st.Limit != last.Limit {
		t.Fatalf("statement %d/%d does not match last apply %d/%d", st.Balance, st.Limit, last.Balance, last.Limit)
	}

	var want []customer.Transaction
	for i := len(sent) - 1; i >= len(sent)-customer.StatementSize; i-- {
		want = append(want, sent[i])
	}
	if diff := cmp.Diff(want, st.LastTransactions, cmpopts.IgnoreFields(customer.Transaction{}, "ID")); diff != "" {
		t.Fatalf("wrong last transactions: %s", diff)
	}
}

// Concurrent debits on one customer must apply exactly the subset that keeps
// the balance within the limit.
func TestAddTransactionConcurrent(t *testing.T) {
	ctx := context.Background()
	core := newMemCore(t, customer.Customer{ID: 1, Limit: 1000, Balance: 0})

	const workers = 50
	const amount = 70 // 14 fit in 1000, the rest must be denied.

	var wg sync.WaitGroup
	results := make([]customer.Customer, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = core.AddTransaction(ctx, 1, customer.NewTransaction{Value: amount, Type: customer.Debit, Description: "c"})
		}()
	}
	wg.Wait()

	var balances []int
	for i, err := range errs {
		switch {
		case err == nil:
			balances = append(balances, results[i].Balance)
		case errors.Is(err, customer.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(balances) != 1000/amount {
		t.Fatalf("got %d applied debits, want %d", len(balances), 1000/amount)
	}

	// Every committed balance is distinct and one step from the previous.
	sort.Sort(sort.Reverse(sort.IntSlice(balances)))
	for i, b := range balances {
		if want := -(i + 1) * amount; b != want {
			t.Fatalf("balance %d is %d, want %d", i, b, want)
		}
	}

	st, err := core.Statement(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Balance != -len(balances)*amount {
		t.Fatalf("final balance %d, want %d", st.Balance, -len(balances)*amount)
	}
}

func TestAddTransaction(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	core := customer.NewCore(log, customerdb.NewStore(log, database), customer.IDRange{Min: 1, Max: 5})

	customerID := 2
	nt := customer.NewTransaction{
		Value:       100,
		Type:        customer.Debit,
		Description: "hello",
	}

	cret, err := core.AddTransaction(ctx, customerID, nt)
	if err != nil {
		t.Fatalf("adding transaction: %v", err)
	}

	c, err := core.QueryByID(ctx, customerID)
	if err != nil {
		t.Fatalf("failed to query customerID[%d]: %v", customerID, err)
	}

	if diff := cmp.Diff(cret, c); diff != "" {
		t.Fatalf("got different customers: %s", diff)
	}

	if c.Balance != -100 {
		t.Fatalf("got %d balance want %d", c.Balance, -100)
	}

	st, err := core.Statement(ctx, customerID)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(st.LastTransactions) != 1 || st.LastTransactions[0].Description != "hello" {
		t.Fatalf("wrong statement transactions: %+v", st.LastTransactions)
	}
}

func TestAddTransactionConcurrentDB(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := dbtest.NewUnit(t, dbtest.WithMigrations())
	t.Cleanup(teardown)

	core := customer.NewCore(log, customerdb.NewStore(log, database), customer.IDRange{Min: 1, Max: 5})

	// Customer 2 has a 80000 limit, 8 of these fit.
	const workers = 20
	const amount = 10000

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = core.AddTransaction(ctx, 2, customer.NewTransaction{Value: amount, Type: customer.Debit, Description: "c"})
		}()
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, customer.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 8 {
		t.Fatalf("got %d applied debits, want 8", applied)
	}

	st, err := core.Statement(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Balance != -80000 {
		t.Fatalf("got balance %d want -80000", st.Balance)
	}
	if len(st.LastTransactions) != 8 {
		t.Fatalf("got %d transactions want 8", len(st.LastTransactions))
	}
}
