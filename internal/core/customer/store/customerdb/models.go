package customerdb

import (
	"time"

	"github.com/rschio/ledger/internal/core/customer"
)

type dbCustomer struct {
	ID      int    `db:"id"`
	Name    string `db:"name"`
	Limit   int    `db:"credit_limit"`
	Balance int    `db:"balance"`
}

func toCustomer(c dbCustomer) customer.Customer {
	return customer.Customer(c)
}

type dbID struct {
	ID int `db:"id"`
}

type dbID64 struct {
	ID int64 `db:"id"`
}

type dbTransaction struct {
	ID          int64     `db:"id"`
	CustomerID  int       `db:"customer_id"`
	Value       int       `db:"amount"`
	Type        string    `db:"type"`
	Description string    `db:"description"`
	Date        time.Time `db:"created_at"`
}

// toDBTransaction leaves the id out, the database assigns it on insert.
func toDBTransaction(t customer.Transaction) dbTransaction {
	return dbTransaction{
		CustomerID:  t.CustomerID,
		Value:       t.Value,
		Type:        string(t.Type),
		Description: t.Description,
		Date:        t.Date,
	}
}

func toTransactions(ts []dbTransaction) []customer.Transaction {
	slice := make([]customer.Transaction, len(ts))
	for i, t := range ts {
		slice[i] = toTransaction(t)
	}
	return slice
}

func toTransaction(t dbTransaction) customer.Transaction {
	return customer.Transaction{
		ID:          t.ID,
		CustomerID:  t.CustomerID,
		Value:       t.Value,
		Type:        customer.Type(t.Type),
		Description: t.Description,
		Date:        t.Date.UTC(),
	}
}
