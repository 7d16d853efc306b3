package orders

import (
	"bytes"
	"errors"
)

// OrderState is the lifecycle state of an Order (spec.md §3/§4.3).
type OrderState uint8

const (
	Creating OrderState = iota
	Created
	Active
	PartiallyFilled
	Filled
	FailedToCreate
	Cancelling
	Cancelled
	Rejected
	Expired
	Unknown
)

const (
	creatingStr        = "creating"
	createdStr         = "created"
	activeStr          = "active"
	partiallyFilledStr = "partially_filled"
	filledStr          = "filled"
	failedToCreateStr  = "failed_to_create"
	cancellingStr      = "cancelling"
	cancelledStr       = "cancelled"
	rejectedStr        = "rejected"
	expiredStr         = "expired"
	unknownStr         = "unknown"
)

func (s OrderState) String() string {
	switch s {
	case Creating:
		return creatingStr
	case Created:
		return createdStr
	case Active:
		return activeStr
	case PartiallyFilled:
		return partiallyFilledStr
	case Filled:
		return filledStr
	case FailedToCreate:
		return failedToCreateStr
	case Cancelling:
		return cancellingStr
	case Cancelled:
		return cancelledStr
	case Rejected:
		return rejectedStr
	case Expired:
		return expiredStr
	case Unknown:
		return unknownStr
	default:
		return "invalid"
	}
}

// IsTerminal reports whether s admits no further transitions (spec.md §3).
func (s OrderState) IsTerminal() bool {
	switch s {
	case Filled, FailedToCreate, Cancelled, Rejected, Expired:
		return true
	default:
		return false
	}
}

func (s OrderState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('"')
	buf.WriteString(s.String())
	buf.WriteByte('"')
	return buf.Bytes(), nil
}

func (s *OrderState) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("lifecycle: malformed order state json")
	}
	switch string(data[1 : len(data)-1]) {
	case creatingStr:
		*s = Creating
	case createdStr:
		*s = Created
	case activeStr:
		*s = Active
	case partiallyFilledStr:
		*s = PartiallyFilled
	case filledStr:
		*s = Filled
	case failedToCreateStr:
		*s = FailedToCreate
	case cancellingStr:
		*s = Cancelling
	case cancelledStr:
		*s = Cancelled
	case rejectedStr:
		*s = Rejected
	case expiredStr:
		*s = Expired
	case unknownStr:
		*s = Unknown
	default:
		return errors.New("lifecycle: unsupported order state: " + string(data))
	}
	return nil
}

// EventKind enumerates the exchange events that drive the lifecycle state
// machine (spec.md §4.3 transition table).
type EventKind uint8

const (
	EventAck EventKind = iota
	EventOpen
	EventPartialFill
	EventFill
	EventCancelAck
	EventReject
	EventExpire
	EventEngineCancelRequest
)

// Event is one exchange-originated (or engine-originated) occurrence to be
// merged into an Order record.
type Event struct {
	Kind            EventKind
	ClientOrderId   ClientOrderId
	ExchangeOrderId string
	Fill            *Fill
	Reason          string
}

// transition table: (current, event) -> next. Invalid pairs are absent and
// the manager logs+drops them rather than panicking (spec.md §4.3: "invalid
// transitions are logged and dropped, never crash the engine").
var transitions = map[OrderState]map[EventKind]OrderState{
	Creating: {
		EventAck:         Created,
		EventReject:      FailedToCreate,
		EventPartialFill: PartiallyFilled,
		EventFill:        Filled,
	},
	Created: {
		EventOpen:                Active,
		EventPartialFill:         PartiallyFilled,
		EventEngineCancelRequest: Cancelling,
	},
	Active: {
		EventPartialFill:         PartiallyFilled,
		EventFill:                Filled,
		EventCancelAck:           Cancelled,
		EventExpire:              Expired,
		EventEngineCancelRequest: Cancelling,
	},
	PartiallyFilled: {
		EventPartialFill:         PartiallyFilled,
		EventFill:                Filled,
		EventCancelAck:           Cancelled,
		EventExpire:              Expired,
		EventEngineCancelRequest: Cancelling,
	},
	Unknown: {
		EventAck:         Created,
		EventOpen:        Active,
		EventPartialFill: PartiallyFilled,
		EventFill:        Filled,
		EventReject:      FailedToCreate,
		EventCancelAck:   Cancelled,
		EventExpire:      Expired,
	},
	Cancelling: {
		EventCancelAck: Cancelled,
		EventFill:      Filled,
		EventExpire:    Expired,
	},
}

// NextState returns the resulting state for (current, event) and whether the
// transition is valid. Invalid pairs (including any transition out of a
// terminal state) return ok=false and the caller must log and drop the event
// rather than apply it (spec.md §4.3).
func NextState(current OrderState, kind EventKind) (next OrderState, ok bool) {
	if current.IsTerminal() {
		return current, false
	}
	row, ok := transitions[current]
	if !ok {
		return current, false
	}
	next, ok = row[kind]
	return next, ok
}

// EventKindForState maps a polled/reconciled exchange order status back to
// the EventKind that would produce it, for fusing reconciliation reads
// through the same transition table used for streamed events (spec.md
// §4.3's "fused with local state by the same transition table").
func EventKindForState(state OrderState) (EventKind, bool) {
	switch state {
	case Created:
		return EventAck, true
	case Active:
		return EventOpen, true
	case PartiallyFilled:
		return EventPartialFill, true
	case Filled:
		return EventFill, true
	case Cancelled:
		return EventCancelAck, true
	case Rejected:
		return EventReject, true
	case Expired:
		return EventExpire, true
	default:
		return 0, false
	}
}
