package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Date is a calendar day encoded as "YYYY-MM-DD" on the wire. Full RFC 3339
// timestamps are accepted on input and truncated to the day.
type Date struct {
	time.Time
}

func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		*d = Date{t}
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	*d = Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
	return nil
}

const (
	StatusPaid   = "paid"
	StatusUnpaid = "unpaid"
)

type Invoice struct {
	ID       string        `json:"id"`
	Number   string        `json:"number"`
	Supplier string        `json:"supplier"`
	Label    string        `json:"label,omitempty"`
	Date     Date          `json:"date"`
	DueDate  Date          `json:"due_date"`
	PaidAt   Date          `json:"paid_at"`
	Amount   float64       `json:"amount"`
	Currency string        `json:"currency,omitempty"`
	Status   string        `json:"status"`
	Lines    []InvoiceLine `json:"lines,omitempty"`
}

func (i Invoice) IsPaid() bool { return i.Status == StatusPaid }

// IsOverdue reports whether the invoice is unpaid and its due date is before today.
func (i Invoice) IsOverdue(today time.Time) bool {
	if i.IsPaid() || i.DueDate.IsZero() {
		return false
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return i.DueDate.Before(day)
}

type InvoiceLine struct {
	Label     string  `json:"label"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Amount    float64 `json:"amount"`
}

type Supplier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Employee struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// CategorySalary marks payroll transactions.
const CategorySalary = "salary"

// Transaction is a bank movement. Credits are positive, debits negative.
type Transaction struct {
	ID       string  `json:"id"`
	Date     Date    `json:"date"`
	Label    string  `json:"label"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Supplier string  `json:"supplier,omitempty"`
	Category string  `json:"category,omitempty"`
}

func (t Transaction) IsCredit() bool { return t.Amount > 0 }
func (t Transaction) IsDebit() bool  { return t.Amount < 0 }

func (t Transaction) IsSalary() bool {
	return t.Category == CategorySalary || strings.Contains(strings.ToUpper(t.Label), "SALAIRE")
}

// InvoiceQuery filters GET /invoices. Empty fields are omitted.
type InvoiceQuery struct {
	Status   string
	Supplier string
	Text     string
}

// TransactionQuery filters GET /transactions. From and To are inclusive.
type TransactionQuery struct {
	From     time.Time
	To       time.Time
	Supplier string
}
