// Package service provides the relationship, chat, identity and media business logic.
package service

import (
	"context"
	"strings"

	"intouch/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
)

// resolveURL joins a stored locator to its public prefix. Absolute locators
// are returned unchanged.
func resolveURL(prefix, source string) string {
	switch {
	case source == "":
		return ""
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return source
	case prefix == "":
		return source
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(source, "/")
}

// uniqueExcept returns ids deduplicated in first-seen order, without blanks
// and without exclude.
func uniqueExcept(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// difference returns the members of a missing from b.
func difference(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// track opens a span for a service call and returns the completion hook that
// ends it and counts the outcome.
func track(ctx context.Context, serviceName, op string, counter *prometheus.CounterVec, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := observability.StartServiceSpan(ctx, serviceName, op, attrs...)
	return ctx, func(err error) {
		observability.EndSpan(span, err)
		counter.WithLabelValues(op, observability.Outcome(err)).Inc()
	}
}
