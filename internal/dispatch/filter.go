package dispatch

import (
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
)

// Filter decides whether an entry is delivered to a connection. It is fixed
// when the connection opens and evaluated for every entry read.
type Filter func(eventlog.Entry) bool

// AllEntries delivers everything. Used for staff and owner views.
func AllEntries() Filter {
	return func(eventlog.Entry) bool { return true }
}

// ByUser delivers entries whose userId field equals userID.
func ByUser(userID string) Filter {
	return func(e eventlog.Entry) bool {
		return e.Fields[events.FieldUserID] == userID
	}
}

// ByOrder delivers entries whose orderId field equals orderID.
func ByOrder(orderID string) Filter {
	return func(e eventlog.Entry) bool {
		return e.Fields[events.FieldOrderID] == orderID
	}
}
