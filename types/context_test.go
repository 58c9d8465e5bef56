package types

import (
	"context"
	"testing"
)

func TestContextHelpers_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTenantID(ctx, "tenant-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithModelID(ctx, "gpt-4o")

	roles := []string{"admin", "auditor"}
	ctx = WithRoles(ctx, roles)
	roles[0] = "mutated"

	if v, ok := TraceID(ctx); !ok || v != "trace-1" {
		t.Fatalf("unexpected trace id: %q %v", v, ok)
	}
	if v, ok := TenantID(ctx); !ok || v != "tenant-1" {
		t.Fatalf("unexpected tenant id: %q %v", v, ok)
	}
	if v, ok := UserID(ctx); !ok || v != "user-1" {
		t.Fatalf("unexpected user id: %q %v", v, ok)
	}
	if v, ok := ModelID(ctx); !ok || v != "gpt-4o" {
		t.Fatalf("unexpected model id: %q %v", v, ok)
	}
	got, ok := Roles(ctx)
	if !ok || len(got) != 2 || got[0] != "admin" {
		t.Fatalf("roles must be copied on write, got %v", got)
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithTenantID(context.Background(), "")
	if _, ok := TenantID(ctx); ok {
		t.Fatalf("empty tenant id should report ok=false")
	}
	if _, ok := Roles(context.Background()); ok {
		t.Fatalf("missing roles should report ok=false")
	}
}

func TestContextHelpers_Authenticated(t *testing.T) {
	t.Parallel()

	if Authenticated(context.Background()) {
		t.Fatalf("plain context must not report authenticated")
	}
	if !Authenticated(WithAuthenticated(context.Background())) {
		t.Fatalf("marked context must report authenticated")
	}
}
