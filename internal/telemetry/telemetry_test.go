package telemetry

import (
	"context"
	"testing"

	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	shutdown := Setup(context.Background(), Config{ServiceName: "smartqueue-portal"}, logging.Discard())
	if shutdown == nil {
		t.Fatal("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}
