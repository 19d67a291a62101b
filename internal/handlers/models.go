package handlers

import (
	"encoding/json"
	"time"

	"github.com/rschio/ledger/internal/core/customer"
)

const dateLayout = time.DateOnly

// Date is a timestamp written on the wire with day precision.
type Date time.Time

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(d).UTC().Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}

	*d = Date(t)
	return nil
}

type TransactionsReq struct {
	Value       int    `json:"valor"`
	Type        string `json:"tipo"`
	Description string `json:"descricao"`
}

type TransactionsResp struct {
	Limit   int `json:"limite"`
	Balance int `json:"saldo"`
}

type Balance struct {
	Total int  `json:"total"`
	Limit int  `json:"limite"`
	Date  Date `json:"data_extrato"`
}

type StatementResp struct {
	Balance          Balance       `json:"saldo"`
	LastTransactions []Transaction `json:"ultimas_transacoes"`
}

type Transaction struct {
	Value       int    `json:"valor"`
	Type        string `json:"tipo"`
	Description string `json:"descricao"`
	Date        Date   `json:"realizada_em"`
}

func toStatementResp(st customer.Statement) StatementResp {
	return StatementResp{
		Balance: Balance{
			Total: st.Balance,
			Limit: st.Limit,
			Date:  Date(st.Date),
		},
		LastTransactions: toTransactions(st.LastTransactions),
	}
}

func toTransactions(ts []customer.Transaction) []Transaction {
	slice := make([]Transaction, len(ts))
	for i, t := range ts {
		slice[i] = toTransaction(t)
	}
	return slice
}

func toTransaction(t customer.Transaction) Transaction {
	return Transaction{
		Value:       t.Value,
		Type:        string(t.Type),
		Description: t.Description,
		Date:        Date(t.Date),
	}
}
