package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrOrderCompleted is returned when stock is requested for an order
	// whose stock was already consumed.
	ErrOrderCompleted = errors.New("stock order already completed")

	// ErrStockReserved is returned when clearing a stock that is held by a
	// reservation.
	ErrStockReserved = errors.New("stock is reserved")

	// ErrInvalidHolder is returned for a reservation holder the ledger
	// cannot encode.
	ErrInvalidHolder = errors.New("invalid reservation holder")
)

// HolderSeparator joins holder and stock ids in the reservation expiry index.
// Holder ids must not contain it.
const HolderSeparator = "|"

// Stock is the available quantity of a stock keeping unit.
type Stock struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

// ReserveOutcome is the result of a reservation attempt.
type ReserveOutcome int

const (
	// ReserveInsufficient means not enough stock was available. Nothing changed.
	ReserveInsufficient ReserveOutcome = iota
	// ReserveCreated means a new reservation now holds the quantity.
	ReserveCreated
	// ReserveHeld means the holder already held a reservation on the stock.
	ReserveHeld
)

// Succeeded reports whether the holder holds the reservation after the attempt.
func (o ReserveOutcome) Succeeded() bool {
	return o == ReserveCreated || o == ReserveHeld
}

// String implements fmt.Stringer.
func (o ReserveOutcome) String() string {
	switch o {
	case ReserveCreated:
		return "created"
	case ReserveHeld:
		return "held"
	case ReserveInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// ValidateHolder checks that a holder id can be stored in the ledger.
func ValidateHolder(holderID string) error {
	if holderID == "" || strings.Contains(holderID, HolderSeparator) {
		return ErrInvalidHolder
	}
	return nil
}

// StockOrder records that an order drew on stock. A completed stock order
// may not reserve again.
type StockOrder struct {
	AggregateID string    `json:"aggregate_id"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReservationTTL returns how long a reservation lives before the expiry job
// restores it: the saga timeout plus the outbox retry budget plus margin.
func ReservationTTL(workflowTimeout time.Duration, retryAttempts int, retryInterval, margin time.Duration) time.Duration {
	return workflowTimeout + time.Duration(retryAttempts)*retryInterval + margin
}
