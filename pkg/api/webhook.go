package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bitechdev/StoreCache/pkg/strategy"
)

// Header names that carry the webhook topic for commerce platforms.
var topicHeaders = []string{"X-Shopify-Topic", "X-WC-Webhook-Topic"}

// webhookParams turns a webhook delivery into the params of the source's strategy
// and returns the event topic it carried. Fields are looked up in the query
// string first, then in the JSON body.
func webhookParams(s strategy.Strategy, r *http.Request, body []byte) (strategy.Params, string, error) {
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return nil, "", fmt.Errorf("%w: body is not valid JSON", strategy.ErrInvalidParams)
	}

	q := r.URL.Query()
	lookup := func(param string, paths ...string) string {
		if v := strings.TrimSpace(q.Get(param)); v != "" {
			return v
		}
		return firstString(body, paths...)
	}

	method := strings.ToUpper(lookup("method", "method"))
	if method == "" {
		method = http.MethodPost
	}

	switch s.(type) {
	case *strategy.CommerceStrategy:
		topic := ""
		for _, h := range topicHeaders {
			if topic = strings.TrimSpace(r.Header.Get(h)); topic != "" {
				break
			}
		}
		if topic == "" {
			topic = lookup("topic", "topic", "event")
		}
		return strategy.CommerceParams{
			Method:   method,
			Resource: lookup("resource", "resource"),
			ID:       lookup("id", "id"),
			Event:    topic,
		}, topic, nil

	case *strategy.POSStrategy:
		topic := lookup("type", "type", "event_type")
		return strategy.POSParams{
			Method:     method,
			Resource:   lookup("resource", "resource"),
			LocationID: lookup("location_id", "location_id", "data.object.*.location_id"),
			ID:         lookup("id", "data.id", "id"),
			Event:      topic,
		}, topic, nil

	default:
		return nil, "", fmt.Errorf("%w: source %s does not accept webhooks", strategy.ErrInvalidParams, s.Name())
	}
}

func firstString(body []byte, paths ...string) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range paths {
		if v := gjson.GetBytes(body, path); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}
