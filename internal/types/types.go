// README: Common value objects shared across modules.
package types

import "fmt"

// Money is an exact amount in grosz (1/100 PLN). Integer math only so
// item sums can be compared with ==.
type Money struct {
	Amount   int64
	Currency string
}

func PLN(grosz int64) Money {
	return Money{Amount: grosz, Currency: "PLN"}
}

func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

func (m Money) Mul(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}

// Category is a driving licence category (B, C, D, ...).
type Category string

const (
	CategoryA  Category = "A"
	CategoryA1 Category = "A1"
	CategoryB  Category = "B"
	CategoryB1 Category = "B1"
	CategoryC  Category = "C"
	CategoryD  Category = "D"
	CategoryT  Category = "T"
)

// CategorySet is the set of categories a vehicle is approved for or a
// checklist item is excluded in.
type CategorySet []Category

func (s CategorySet) Contains(c Category) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}
