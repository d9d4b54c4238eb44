package hooks

import (
	"context"
	"errors"
	"testing"
)

func record(tag string, into *[]string) Hook {
	return func(_ context.Context, _ *Context) error {
		*into = append(*into, tag)
		return nil
	}
}

func TestRegistry_ChainOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Register(AppPath, Before, record("app-before", &calls))
	r.Register(AppPath, After, record("app-after", &calls))
	r.Register("items", Before, record("svc-before", &calls))
	r.Register("items", After, record("svc-after", &calls))
	r.RegisterFor("items", After, Patch, record("svc-after-patch", &calls))
	r.RegisterFor("items", After, Create, record("svc-after-create", &calls))

	if _, err := Process(context.Background(), r.Chain("items", Before, Patch), &Context{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := Process(context.Background(), r.Chain("items", After, Patch), &Context{}); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := []string{"app-before", "svc-before", "svc-after", "svc-after-patch", "app-after"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestRegistry_UnknownPathOnlyRunsAppHooks(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Register(AppPath, After, record("app", &calls))
	if got := len(r.Chain("missing", After, Remove)); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := len(r.Chain("missing", Before, Remove)); got != 0 {
		t.Fatalf("expected no hooks, got %d", got)
	}
}

func TestProcess_TransformsResultAndStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	chain := []Hook{
		func(_ context.Context, hc *Context) error {
			m := hc.Result.(map[string]interface{})
			delete(m, "password")
			return nil
		},
		func(context.Context, *Context) error { return boom },
		func(context.Context, *Context) error { ran = true; return nil },
	}
	hc := &Context{Type: After, Method: Create, Result: map[string]interface{}{"id": 1, "password": "x"}}
	_, err := Process(context.Background(), chain, hc)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ran {
		t.Fatal("hook after the failing one ran")
	}
	if _, ok := hc.Result.(map[string]interface{})["password"]; ok {
		t.Fatal("first hook change lost")
	}
}

func TestShape_Arguments(t *testing.T) {
	params := Params{"query": map[string]interface{}{}}
	tests := []struct {
		method Method
		want   []interface{}
	}{
		{Create, []interface{}{"data", params}},
		{Update, []interface{}{"id", "data", params}},
		{Patch, []interface{}{"id", "data", params}},
		{Remove, []interface{}{"id", params}},
		{Find, []interface{}{params}},
	}
	for _, tt := range tests {
		got := ShapeFor(tt.method).Arguments("id", "data", params)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %v", tt.method, got)
		}
		for i := range got {
			if _, isParams := got[i].(Params); isParams {
				continue
			}
			if got[i] != tt.want[i] {
				t.Fatalf("%s: arg %d = %v, want %v", tt.method, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNewContext_AssignsByShape(t *testing.T) {
	params := Params{"query": map[string]interface{}{}}
	hc := NewContext(Patch, After, ShapeFor(Patch).Arguments(7, "payload", params))
	if hc.ID != 7 || hc.Data != "payload" || hc.Params == nil {
		t.Fatalf("unexpected context %+v", hc)
	}
	if hc.Type != After || hc.Method != Patch {
		t.Fatalf("unexpected phase or method %+v", hc)
	}

	hc = NewContext(Remove, After, ShapeFor(Remove).Arguments(9, nil, params))
	if hc.ID != 9 || hc.Data != nil {
		t.Fatalf("remove context %+v", hc)
	}
}
