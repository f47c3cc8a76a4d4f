package common

import (
	"github.com/shopspring/decimal"
)

// Shape names recorded on every extracted record.
const (
	ShapePrimary     = "primary"
	ShapeAlternative = "alternative"
)

// Record is one transaction pulled from a DAT line.
// Date and Time hold normalized values (2025-07-10, 14:30:22) or the raw
// token when it could not be normalized.
type Record struct {
	Date          string          `json:"transaction_date"`
	Time          string          `json:"transaction_time"`
	Amount        decimal.Decimal `json:"amount"`
	MobileNumber  string          `json:"mobile_number"`
	TransactionID string          `json:"transaction_id"`

	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
	Shape  string `json:"shape,omitempty"`
}

// Key identifies a record for de-duplication inside a daily ledger.
type Key struct {
	TransactionID string
	MobileNumber  string
	Amount        string
	Time          string
}

func (r Record) Key() Key {
	return Key{
		TransactionID: r.TransactionID,
		MobileNumber:  r.MobileNumber,
		Amount:        FormatAmount(r.Amount),
		Time:          r.Time,
	}
}

// DateStamp is the YYYYMMDD form of the record date, used to name ledgers.
func (r Record) DateStamp() string {
	return DateStamp(r.Date)
}
