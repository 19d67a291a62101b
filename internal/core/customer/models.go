package customer

import (
	"time"
)

// Type is the kind of a transaction. The sign of the effect on the balance is
// carried by the type, never by the amount.
type Type string

// Set of transaction types.
const (
	Credit Type = "c"
	Debit  Type = "d"
)

func (t Type) valid() bool {
	return t == Credit || t == Debit
}

type Customer struct {
	ID      int
	Name    string
	Limit   int
	Balance int
}

type NewTransaction struct {
	Value       int
	Type        Type
	Description string
}

type Transaction struct {
	ID          int64
	CustomerID  int
	Value       int
	Type        Type
	Description string
	Date        time.Time
}

// Statement is a best-effort snapshot of a customer's balance and its latest
// transactions, newest first.
type Statement struct {
	Balance          int
	Limit            int
	Date             time.Time
	LastTransactions []Transaction
}
