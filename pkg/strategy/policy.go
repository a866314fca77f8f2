package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// policy is the fixed table behind a strategy: resource lifetimes, the
// resources a write to another resource makes stale and the webhook topic
// prefixes that name each resource.
type policy struct {
	source     string
	ttls       map[string]time.Duration
	dependants map[string][]string
	events     map[string]string
}

// resource resolves the resource of a request, falling back to the event topic.
func (p *policy) resource(resource, event string) (string, error) {
	resource = strings.ToLower(strings.TrimSpace(resource))
	if resource == "" && event != "" {
		resource = p.eventResource(event)
	}
	if resource == "" {
		return "", fmt.Errorf("%w: %s: resource is required", ErrInvalidParams, p.source)
	}
	if _, ok := p.ttls[resource]; !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownResource, p.source, resource)
	}
	return resource, nil
}

// eventResource maps "orders/create", "order.updated" or "inventory.count.updated"
// to the resource the topic is about.
func (p *policy) eventResource(event string) string {
	event = strings.ToLower(strings.TrimSpace(event))
	head := event
	if i := strings.IndexAny(event, "/."); i >= 0 {
		head = event[:i]
	}
	if resource, ok := p.events[head]; ok {
		return resource
	}
	if _, ok := p.ttls[head]; ok {
		return head
	}
	return ""
}

func (p *policy) ttl(resource string) time.Duration {
	return p.ttls[resource]
}

// patterns returns the resource pattern followed by its dependants, sorted and deduplicated.
func (p *policy) patterns(resource string) []string {
	out := []string{resourcePattern(p.source, resource)}

	deps := append([]string(nil), p.dependants[resource]...)
	sort.Strings(deps)
	seen := map[string]bool{resource: true}
	for _, dep := range deps {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, resourcePattern(p.source, dep))
	}
	return out
}

// Resources lists the resources a policy knows, sorted.
func (p *policy) Resources() []string {
	out := make([]string, 0, len(p.ttls))
	for resource := range p.ttls {
		out = append(out, resource)
	}
	sort.Strings(out)
	return out
}
