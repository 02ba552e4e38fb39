package context

import (
	stdctx "context"
	"strings"
)

type requestIDKey struct{}
type notificationIDKey struct{}
type paymentIDKey struct{}

func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithNotificationID tags the context with the id assigned to an inbound notification.
func WithNotificationID(ctx stdctx.Context, notificationID string) stdctx.Context {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, notificationIDKey{}, notificationID)
}

func NotificationIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(notificationIDKey{}).(string)
	return value
}

func WithPaymentID(ctx stdctx.Context, paymentID string) stdctx.Context {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, paymentIDKey{}, paymentID)
}

func PaymentIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(paymentIDKey{}).(string)
	return value
}
