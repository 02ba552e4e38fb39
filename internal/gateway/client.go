package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mock/mock_client.go -package=mock_gateway -source=client.go Client

// Client reads authoritative payment state from the processor.
type Client interface {
	FetchPayment(ctx context.Context, paymentID uint64) (PaymentDetails, error)
	// FetchOrderPayments returns the payment ids attached to an order resource.
	FetchOrderPayments(ctx context.Context, resourceURL string) ([]uint64, error)
}

// PaymentDetails is the subset of a processor payment reconciliation reads.
// Zero values mean the field was absent.
type PaymentDetails struct {
	ID                uint64
	Status            string
	StatusDetail      string
	TransactionAmount decimal.Decimal
	PaymentMethodID   string
	ExternalReference string
	MetadataUserID    string
}

var ErrInvalidResourceURL = errors.New("invalid_resource_url")

// UpstreamError is a non-2xx processor response.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// TimeoutError is returned when the processor did not answer in time.
type TimeoutError struct {
	Operation string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: upstream timeout: %v", e.Operation, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Reason classifies err for metrics labels.
func Reason(err error) string {
	var upstream *UpstreamError
	var timeout *TimeoutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &upstream):
		if upstream.StatusCode == 404 {
			return "not_found"
		}
		if upstream.StatusCode >= 500 {
			return "upstream_5xx"
		}
		return "upstream_4xx"
	case errors.Is(err, ErrInvalidResourceURL):
		return "invalid_resource"
	default:
		return "transport"
	}
}
