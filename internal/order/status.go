package order

import "strings"

// Order statuses. CONFIRMED means paid.
const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusConfirmed      = "CONFIRMED"
	StatusPacked         = "PACKED"
	StatusShipped        = "SHIPPED"
	StatusDelivered      = "DELIVERED"
	StatusCanceled       = "CANCELED"
)

var statusRank = map[string]int{
	StatusPendingPayment: 0,
	StatusConfirmed:      1,
	StatusPacked:         2,
	StatusShipped:        3,
	StatusDelivered:      4,
}

// CustomerCancelable lists the statuses a customer may cancel from.
var CustomerCancelable = []string{StatusPendingPayment, StatusConfirmed}

// AdminCancelable lists the statuses an administrator may cancel from; anything handed to the
// courier is past the point of restocking.
var AdminCancelable = []string{StatusPendingPayment, StatusConfirmed, StatusPacked}

// NormalizeStatus upper-cases a client supplied status.
func NormalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Known reports whether s is a valid order status.
func Known(s string) bool {
	_, ok := statusRank[s]
	return ok || s == StatusCanceled
}

// CanAdvance reports whether from -> to is a forward move along the fulfilment ranks.
// CANCELED is terminal and handled separately.
func CanAdvance(from, to string) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
