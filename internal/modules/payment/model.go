// README: Transaction aggregate, item types, status flow, and notification status mapping.
package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"autoszkola/internal/types"
)

type Status string

const (
	StatusRegistered Status = "registered"
	StatusCanceled   Status = "canceled"
	StatusComplete   Status = "complete"
	StatusRefund     Status = "refund"
)

// AllowedTransitions represents the settlement flow as code. Refund is
// reachable from Complete (operator/provider refund) and from Canceled
// (chargeback confirming that captured funds went back).
var AllowedTransitions = map[Status][]Status{
	StatusRegistered: {StatusComplete, StatusCanceled},
	StatusComplete:   {StatusRefund},
	StatusCanceled:   {StatusRefund},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type ItemType string

const (
	ItemCourse         ItemType = "course"
	ItemService        ItemType = "service"
	ItemAdditionalHour ItemType = "additional_hour"
)

// TransactionItem is one purchased position. RelatedID points at the
// entity the item created (course id, hours-package id) so cancellation
// can unwind it.
type TransactionItem struct {
	ID            int64
	TransactionID uuid.UUID
	Type          ItemType
	Name          string
	Quantity      int64
	UnitPrice     types.Money
	Total         types.Money
	RelatedID     *int64
}

type Transaction struct {
	ID            uuid.UUID
	SchoolID      int64
	CourseID      *int64
	Items         []TransactionItem
	PayerName     string
	PayerEmail    string
	Total         types.Money
	Status        Status
	StatusVersion int
	RegisteredAt  time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
	ExternalID    string
	Title         string
	PaymentURL    string
}

// SumItems recomputes the order total from the items.
func SumItems(items []TransactionItem) types.Money {
	var total types.Money
	for i, item := range items {
		if i == 0 {
			total.Currency = item.Total.Currency
		}
		total = total.Add(item.Total)
	}
	return total
}

// NotificationKind is the coarse meaning of a provider status string.
type NotificationKind int

const (
	NotifUnknown NotificationKind = iota
	NotifPaid
	NotifCanceled
	NotifChargeback
)

// ParseNotificationStatus folds the provider's status vocabulary into
// the three events the state machine reacts to.
func ParseNotificationStatus(s string) NotificationKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "PAID", "CORRECT", "SUCCESS":
		return NotifPaid
	case "CHARGEBACK":
		return NotifChargeback
	case "FALSE", "DECLINED", "CANCELED", "CANCELLED", "ERROR", "EXPIRED":
		return NotifCanceled
	default:
		return NotifUnknown
	}
}
