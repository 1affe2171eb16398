package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "UserRegistered"),
		attribute.String("password_hash", "should-never-appear"),
		attribute.String("status", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	var sawEventType, sawStatus bool
	for _, a := range attrs {
		switch a.Key {
		case "event_type":
			sawEventType = true
		case "status":
			sawStatus = true
		}
	}
	if !sawEventType || !sawStatus {
		t.Fatalf("expected event_type and status to be retained, got %v", attrs)
	}
}
