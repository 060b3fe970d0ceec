// Package contract defines the message vocabulary shared by the orchestrator
// and the order, inventory and payment services.
package contract

import "fmt"

// EventType names an event emitted by a participating service.
type EventType string

const (
	OrderCreated     EventType = "ORDER_CREATED"
	StockReserved    EventType = "STOCK_RESERVED"
	PaymentSucceeded EventType = "PAYMENT_SUCCEEDED"
	OrderCompleted   EventType = "ORDER_COMPLETED"

	StockReleased   EventType = "STOCK_RELEASED"
	PaymentRefunded EventType = "PAYMENT_REFUNDED"
	OrderCancelled  EventType = "ORDER_CANCELLED"

	// SagaCompleted is published by the orchestrator once every step of a
	// saga succeeded.
	SagaCompleted EventType = "SAGA_COMPLETED"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	OrderCreated, StockReserved, PaymentSucceeded, OrderCompleted,
	StockReleased, PaymentRefunded, OrderCancelled, SagaCompleted,
}

// ParseEventType converts a wire value into an EventType.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case OrderCreated, StockReserved, PaymentSucceeded, OrderCompleted,
		StockReleased, PaymentRefunded, OrderCancelled, SagaCompleted:
		return t, nil
	default:
		return "", fmt.Errorf("unknown event type %q", s)
	}
}

// String implements fmt.Stringer.
func (t EventType) String() string { return string(t) }

// Compensates returns the event type whose effect this compensatory event
// undoes. ok is false for non-compensatory events.
func (t EventType) Compensates() (EventType, bool) {
	switch t {
	case StockReleased:
		return StockReserved, true
	case PaymentRefunded:
		return PaymentSucceeded, true
	case OrderCancelled:
		return OrderCompleted, true
	case OrderCreated, StockReserved, PaymentSucceeded, OrderCompleted, SagaCompleted:
		return "", false
	default:
		return "", false
	}
}

// IsCompensatory reports whether t confirms a compensating command.
func (t EventType) IsCompensatory() bool {
	_, ok := t.Compensates()
	return ok
}

// CommandType names a command issued by the orchestrator.
type CommandType string

const (
	ReserveStock   CommandType = "RESERVE_STOCK"
	ReleaseStock   CommandType = "RELEASE_STOCK"
	ProcessPayment CommandType = "PROCESS_PAYMENT"
	RefundPayment  CommandType = "REFUND_PAYMENT"
	CompleteOrder  CommandType = "COMPLETE_ORDER"
	CancelOrder    CommandType = "CANCEL_ORDER"
)

// CommandTypes lists every known command type.
var CommandTypes = []CommandType{
	ReserveStock, ReleaseStock, ProcessPayment, RefundPayment, CompleteOrder, CancelOrder,
}

// ParseCommandType converts a wire value into a CommandType.
func ParseCommandType(s string) (CommandType, error) {
	switch t := CommandType(s); t {
	case ReserveStock, ReleaseStock, ProcessPayment, RefundPayment, CompleteOrder, CancelOrder:
		return t, nil
	default:
		return "", fmt.Errorf("unknown command type %q", s)
	}
}

// String implements fmt.Stringer.
func (t CommandType) String() string { return string(t) }

// Reply returns the event a service emits after handling the command,
// whether it succeeded or was rejected (with the failure flag set).
func (t CommandType) Reply() EventType {
	switch t {
	case ReserveStock:
		return StockReserved
	case ReleaseStock:
		return StockReleased
	case ProcessPayment:
		return PaymentSucceeded
	case RefundPayment:
		return PaymentRefunded
	case CompleteOrder:
		return OrderCompleted
	case CancelOrder:
		return OrderCancelled
	default:
		panic(fmt.Sprintf("contract: no reply for command %q", string(t)))
	}
}
