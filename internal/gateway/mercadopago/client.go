package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/gateway"
	obsmetrics "github.com/smallbiznis/paynotify/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opFetchPayment       = "fetch_payment"
	opFetchOrderPayments = "fetch_order_payments"

	maxErrorBody = 4 << 10
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Client struct {
	cfg     config.MercadoPagoConfig
	base    *url.URL
	client  *http.Client
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	group   singleflight.Group
}

// NewClient validates the mode/token pairing before anything can be fetched.
func NewClient(p Params) (gateway.Client, error) {
	return New(p.Cfg.MercadoPago, p.Log, p.ObsMetrics)
}

func New(cfg config.MercadoPagoConfig, log *zap.Logger, metrics *obsmetrics.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &config.ConfigurationError{Field: "MP_API_BASE_URL", Reason: "must be an absolute URL"}
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log.Named("gateway.mercadopago"),
		metrics: metrics,
	}, nil
}

// OrderURL builds the order resource URL for an order id.
func OrderURL(baseURL string, orderID uint64) string {
	return strings.TrimRight(baseURL, "/") + "/merchant_orders/" + strconv.FormatUint(orderID, 10)
}

type paymentResponse struct {
	ID                json.RawMessage `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount json.RawMessage `json:"transaction_amount"`
	PaymentMethodID   string          `json:"payment_method_id"`
	ExternalReference json.RawMessage `json:"external_reference"`
	Metadata          map[string]any  `json:"metadata"`
}

type orderResponse struct {
	Payments []struct {
		ID json.RawMessage `json:"id"`
	} `json:"payments"`
}

// FetchPayment collapses concurrent fetches of the same id into one request.
// The shared request runs detached from any single caller and is bounded by
// the client timeout; each caller still returns when its own ctx ends.
func (c *Client) FetchPayment(ctx context.Context, paymentID uint64) (gateway.PaymentDetails, error) {
	key := "payment:" + strconv.FormatUint(paymentID, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.cfg.Timeout)
			defer cancel()
		}
		return c.fetchPayment(fetchCtx, paymentID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.log.Debug("payment fetch shared", zap.Uint64("payment_id", paymentID))
		}
		if res.Err != nil {
			return gateway.PaymentDetails{}, res.Err
		}
		return res.Val.(gateway.PaymentDetails), nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return gateway.PaymentDetails{}, &gateway.TimeoutError{Operation: opFetchPayment, Err: err}
		}
		return gateway.PaymentDetails{}, fmt.Errorf("%s: %w", opFetchPayment, err)
	}
}

func (c *Client) fetchPayment(ctx context.Context, paymentID uint64) (gateway.PaymentDetails, error) {
	endpoint := c.base.JoinPath("v1", "payments", strconv.FormatUint(paymentID, 10)).String()

	var body paymentResponse
	if err := c.get(ctx, opFetchPayment, endpoint, &body); err != nil {
		return gateway.PaymentDetails{}, err
	}

	details := gateway.PaymentDetails{
		ID:                paymentID,
		Status:            body.Status,
		StatusDetail:      body.StatusDetail,
		TransactionAmount: parseAmount(body.TransactionAmount),
		PaymentMethodID:   body.PaymentMethodID,
		ExternalReference: rawString(body.ExternalReference),
	}
	if id, ok := parseID(body.ID); ok {
		details.ID = id
	}
	if body.Metadata != nil {
		details.MetadataUserID = anyString(body.Metadata["user_id"])
	}
	return details, nil
}

func (c *Client) FetchOrderPayments(ctx context.Context, resourceURL string) ([]uint64, error) {
	target, err := c.resolveResource(resourceURL)
	if err != nil {
		c.metrics.RecordGatewayError(ctx, opFetchOrderPayments, gateway.Reason(err))
		return nil, err
	}

	var body orderResponse
	if err := c.get(ctx, opFetchOrderPayments, target, &body); err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(body.Payments))
	for _, p := range body.Payments {
		if id, ok := parseID(p.ID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// resolveResource keeps the bearer token on the configured API host.
func (c *Client) resolveResource(resourceURL string) (string, error) {
	raw := strings.TrimSpace(resourceURL)
	if raw == "" {
		return "", gateway.ErrInvalidResourceURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrInvalidResourceURL, err)
	}
	if !u.IsAbs() {
		return c.base.ResolveReference(u).String(), nil
	}
	if !strings.EqualFold(u.Host, c.base.Host) || u.Scheme != c.base.Scheme {
		return "", fmt.Errorf("%w: host %q is not the api host", gateway.ErrInvalidResourceURL, u.Host)
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			err = &gateway.TimeoutError{Operation: operation, Err: err}
		} else {
			err = fmt.Errorf("%s: %w", operation, err)
		}
		c.metrics.RecordGatewayError(ctx, operation, gateway.Reason(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &gateway.UpstreamError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
		c.metrics.RecordGatewayError(ctx, operation, gateway.Reason(err))
		return err
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if isTimeout(ctx, err) {
			err = &gateway.TimeoutError{Operation: operation, Err: err}
		} else {
			err = fmt.Errorf("%s: decode response: %w", operation, err)
		}
		c.metrics.RecordGatewayError(ctx, operation, gateway.Reason(err))
		return err
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseAmount accepts only JSON numbers; anything else counts as zero.
func parseAmount(raw json.RawMessage) decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || strings.HasPrefix(s, `"`) {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func parseID(raw json.RawMessage) (uint64, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return ""
	}
	return anyString(value)
}

// anyString renders string and numeric JSON values; numbers keep their
// integer form (1234 rather than 1.234e+03).
func anyString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool, nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
