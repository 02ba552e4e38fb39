package domain

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	paymentResourcePattern = regexp.MustCompile(`(?:^|/)(?:v1/)?payments/(\d+)/?$`)
	orderResourcePattern   = regexp.MustCompile(`(?:^|/)merchant_orders/(\d+)/?$`)
)

// Extraction is the result of reading candidate ids from a notification.
type Extraction struct {
	Variants   []Variant
	Candidates []uint64
	// OrderURL is set for order notifications; its payments still have to be
	// fetched and unioned into Candidates.
	OrderURL string
}

func (e Extraction) IsOrder() bool { return e.OrderURL != "" }

func (e Extraction) Empty() bool { return len(e.Candidates) == 0 && e.OrderURL == "" }

// Union appends ids not already present, keeping first-seen order.
func (e *Extraction) Union(ids ...uint64) {
	seen := make(map[uint64]struct{}, len(e.Candidates)+len(ids))
	for _, id := range e.Candidates {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		e.Candidates = append(e.Candidates, id)
	}
}

type Extractor struct {
	apiBaseURL    string
	orderKeywords []string
}

func NewExtractor(apiBaseURL string, orderKeywords []string) Extractor {
	keywords := make([]string, 0, len(orderKeywords))
	for _, kw := range orderKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return Extractor{
		apiBaseURL:    strings.TrimRight(apiBaseURL, "/"),
		orderKeywords: keywords,
	}
}

// Extract applies every rule and unions the results. Malformed ids are
// dropped silently. ErrExtractionEmpty is returned when nothing matched.
func (x Extractor) Extract(n Notification) (Extraction, error) {
	var out Extraction

	directIDs := make([]uint64, 0, 2)
	for _, raw := range []string{n.DataID, n.ID} {
		if id, ok := ParsePaymentID(raw); ok {
			directIDs = append(directIDs, id)
		}
	}

	resource := strings.TrimSpace(n.Resource)
	isOrder := x.isOrder(n.Topic, n.Type, resource)

	if isOrder {
		out.Variants = append(out.Variants, VariantOrderAggregate)
		switch {
		case resource != "" && !isBareNumber(resource):
			out.OrderURL = x.orderURLFromResource(resource)
			out.Union(directIDs...)
		case resource != "":
			if orderID, ok := ParsePaymentID(resource); ok {
				out.OrderURL = x.orderURL(orderID)
			}
			out.Union(directIDs...)
		case len(directIDs) > 0:
			// the id names the order itself
			out.OrderURL = x.orderURL(directIDs[0])
			out.Union(directIDs[1:]...)
		}
	} else {
		out.Union(directIDs...)
		if id, ok := paymentIDFromResource(resource); ok {
			out.Union(id)
		}
	}

	if len(directIDs) > 0 {
		out.Variants = append(out.Variants, VariantDirectID)
	}
	if resource != "" && !isBareNumber(resource) {
		out.Variants = append(out.Variants, VariantResourceURL)
	}

	if out.Empty() {
		return out, ErrExtractionEmpty
	}
	return out, nil
}

func (x Extractor) isOrder(topic, kind, resource string) bool {
	fields := []string{strings.ToLower(topic), strings.ToLower(kind), strings.ToLower(resourcePath(resource))}
	for _, kw := range x.orderKeywords {
		for _, f := range fields {
			if f != "" && strings.Contains(f, kw) {
				return true
			}
		}
	}
	return false
}

// orderURLFromResource rewrites processor order URLs onto the configured API
// base so the credentials never leave the API host. Other URLs are kept for
// the gateway to validate.
func (x Extractor) orderURLFromResource(resource string) string {
	if m := orderResourcePattern.FindStringSubmatch(resourcePath(resource)); m != nil {
		if id, ok := ParsePaymentID(m[1]); ok {
			return x.orderURL(id)
		}
	}
	return resource
}

func (x Extractor) orderURL(orderID uint64) string {
	return x.apiBaseURL + "/merchant_orders/" + strconv.FormatUint(orderID, 10)
}

// paymentIDFromResource accepts payment resource URLs and legacy bare ids.
func paymentIDFromResource(resource string) (uint64, bool) {
	if resource == "" {
		return 0, false
	}
	if isBareNumber(resource) {
		return ParsePaymentID(resource)
	}
	m := paymentResourcePattern.FindStringSubmatch(resourcePath(resource))
	if m == nil {
		return 0, false
	}
	return ParsePaymentID(m[1])
}

func resourcePath(resource string) string {
	if resource == "" {
		return ""
	}
	u, err := url.Parse(resource)
	if err != nil {
		return resource
	}
	return u.Path
}

func isBareNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
