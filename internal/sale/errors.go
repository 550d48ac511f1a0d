package sale

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a SaleRequest fails validation.
	ErrInvalidRequest = errors.New("invalid sale request")
	// ErrTicketUnavailable is returned when a requested ticket is not sold
	// for the visit date.
	ErrTicketUnavailable = errors.New("ticket unavailable")
	// ErrSaleRejected matches every *RejectedError.
	ErrSaleRejected = errors.New("sale rejected")
	// ErrSaleTimedOut is returned when the payment callback never arrived.
	ErrSaleTimedOut = errors.New("timed out waiting for payment callback")
	// ErrSaleUnconfirmed is returned when waiting stopped for another
	// reason after the sell order may have reached the provider. The
	// cause (context error or pending.ErrClosed) stays in the chain.
	ErrSaleUnconfirmed = errors.New("sale outcome unconfirmed")
)

// RejectedError reports a sell order the provider refused or that could
// not be delivered.
type RejectedError struct {
	TransactionKey string
	Reason         string
	Err            error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sale rejected: %s", e.Reason)
}

// Is makes errors.Is(err, ErrSaleRejected) hold.
func (e *RejectedError) Is(target error) bool { return target == ErrSaleRejected }

func (e *RejectedError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// UnavailableError names the requested ticket that is not sold for the
// visit date.
type UnavailableError struct {
	TicketID  string
	VisitDate string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ticket unavailable: ticket %q is not available for %s", e.TicketID, e.VisitDate)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrTicketUnavailable }

// CatalogError reports a failed availability lookup.
type CatalogError struct {
	VisitDate string
	Err       error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("looking up tickets for %s: %v", e.VisitDate, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }
