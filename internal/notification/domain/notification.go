package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrExtractionEmpty means the notification named no payment at all. It is
// not a processing failure.
var ErrExtractionEmpty = errors.New("no_payment_identifiers")

// Variant tags the shapes a notification may carry. One notification can
// carry several.
type Variant string

const (
	VariantDirectID       Variant = "direct_id"
	VariantResourceURL    Variant = "resource_url"
	VariantOrderAggregate Variant = "order_aggregate"
)

// Notification is the structured reading of an untrusted payload. Unknown
// fields are dropped.
type Notification struct {
	Topic      string
	Type       string
	Action     string
	DataID     string
	ID         string
	Resource   string
	LiveMode   *bool
	ReceivedAs string
}

// Parse reads a JSON or form body merged with URL query parameters. Query
// values only fill fields the body left empty. A body that is neither JSON
// nor form data yields an error only if the query is empty too.
func Parse(body []byte, contentType string, query url.Values) (Notification, error) {
	n := Notification{}
	var bodyErr error

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		n.ReceivedAs = "query"
	case strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(trimmed))
		if err != nil {
			bodyErr = err
			break
		}
		n.ReceivedAs = "form"
		n.fillFromValues(values)
	default:
		if err := n.fillFromJSON(trimmed); err != nil {
			bodyErr = err
			break
		}
		n.ReceivedAs = "json"
	}

	n.fillFromValues(query)

	if bodyErr != nil && len(query) == 0 {
		return Notification{}, bodyErr
	}
	return n, nil
}

type jsonPayload struct {
	ID       json.RawMessage `json:"id"`
	Topic    json.RawMessage `json:"topic"`
	Type     json.RawMessage `json:"type"`
	Action   json.RawMessage `json:"action"`
	Resource json.RawMessage `json:"resource"`
	LiveMode *bool           `json:"live_mode"`
	Data     *struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (n *Notification) fillFromJSON(raw []byte) error {
	var payload jsonPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return err
	}
	n.ID = scalar(payload.ID)
	n.Topic = scalar(payload.Topic)
	n.Type = scalar(payload.Type)
	n.Action = scalar(payload.Action)
	n.Resource = scalar(payload.Resource)
	n.LiveMode = payload.LiveMode
	if payload.Data != nil {
		n.DataID = scalar(payload.Data.ID)
	}
	return nil
}

func (n *Notification) fillFromValues(values url.Values) {
	if len(values) == 0 {
		return
	}
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if v := strings.TrimSpace(values.Get(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&n.ID, "id")
	fill(&n.DataID, "data.id", "data_id")
	fill(&n.Topic, "topic")
	fill(&n.Type, "type")
	fill(&n.Action, "action")
	fill(&n.Resource, "resource")
}

// scalar renders a JSON string or number; objects, arrays and null are empty.
func scalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(raw, &out); err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || s == "true" || s == "false" {
		return ""
	}
	return s
}

// ParsePaymentID accepts positive base-10 integers, including JSON numbers
// written with a zero fraction (777.0).
func ParsePaymentID(raw string) (uint64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if whole, frac, ok := strings.Cut(s, "."); ok {
		if strings.Trim(frac, "0") != "" {
			return 0, false
		}
		s = whole
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
