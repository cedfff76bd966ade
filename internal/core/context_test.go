package core

import (
	"context"
	"reflect"
	"testing"
)

func TestRequestContext(t *testing.T) {
	ctx := context.Background()
	if ActorFromContext(ctx) != "" || IPAddressFromContext(ctx) != "" {
		t.Error("empty context should carry no identity")
	}
	if attrs := requestAttrs(ctx); len(attrs) != 0 {
		t.Errorf("requestAttrs() = %v, want none", attrs)
	}

	ctx = ContextWithActor(ctx, "registrar")
	ctx = ContextWithIPAddress(ctx, "10.0.0.7")
	if got := ActorFromContext(ctx); got != "registrar" {
		t.Errorf("ActorFromContext() = %q", got)
	}
	want := []any{"actor", "registrar", "client_ip", "10.0.0.7"}
	if got := requestAttrs(ctx); !reflect.DeepEqual(got, want) {
		t.Errorf("requestAttrs() = %v, want %v", got, want)
	}
}
