// README: Pure tests for the settlement transition table, item sums, and notification mapping.
package payment

import (
	"testing"

	"autoszkola/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusRegistered, StatusComplete, true},
		{StatusRegistered, StatusCanceled, true},
		{StatusComplete, StatusRefund, true},
		{StatusCanceled, StatusRefund, true},
		// no transition may be applied twice
		{StatusComplete, StatusComplete, false},
		{StatusCanceled, StatusCanceled, false},
		{StatusRefund, StatusRefund, false},
		// monotonic: no way back
		{StatusComplete, StatusRegistered, false},
		{StatusCanceled, StatusRegistered, false},
		{StatusRefund, StatusComplete, false},
		{StatusRefund, StatusCanceled, false},
		{StatusRefund, StatusRegistered, false},
		// skipping registration is impossible
		{StatusRegistered, StatusRefund, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSumItems(t *testing.T) {
	items := []TransactionItem{
		{Type: ItemCourse, Name: "Category B course", Quantity: 1, UnitPrice: types.PLN(250000), Total: types.PLN(250000)},
		{Type: ItemAdditionalHour, Name: "Extra hours x5", Quantity: 5, UnitPrice: types.PLN(12000), Total: types.PLN(60000)},
		{Type: ItemService, Name: "Theory materials", Quantity: 1, UnitPrice: types.PLN(4900), Total: types.PLN(4900)},
	}
	sum := SumItems(items)
	if sum.Amount != 314900 {
		t.Fatalf("SumItems = %d, want 314900", sum.Amount)
	}
	if sum.Currency != "PLN" {
		t.Fatalf("SumItems currency = %q, want PLN", sum.Currency)
	}
	if got := SumItems(nil); got.Amount != 0 {
		t.Fatalf("SumItems(nil) = %d, want 0", got.Amount)
	}
}

func TestParseNotificationStatus(t *testing.T) {
	cases := []struct {
		in   string
		want NotificationKind
	}{
		{"TRUE", NotifPaid},
		{"paid", NotifPaid},
		{" CORRECT ", NotifPaid},
		{"CHARGEBACK", NotifChargeback},
		{"chargeback", NotifChargeback},
		{"FALSE", NotifCanceled},
		{"declined", NotifCanceled},
		{"EXPIRED", NotifCanceled},
		{"", NotifUnknown},
		{"PENDING", NotifUnknown},
	}
	for _, tc := range cases {
		if got := ParseNotificationStatus(tc.in); got != tc.want {
			t.Errorf("ParseNotificationStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
