package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func objectSchema(name string) Schema {
	return Schema{
		Name:       name,
		Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func TestDispatchReachesHandlerOnce(t *testing.T) {
	reg := New(nil)
	calls := 0
	reg.Register(objectSchema("echo"), func(_ context.Context, args json.RawMessage) (string, error) {
		calls++
		return string(args), nil
	})

	result := reg.Dispatch(context.Background(), "echo", `{"text":"hi"}`)
	if calls != 1 {
		t.Fatalf("handler calls=%d, want 1", calls)
	}
	if result != `{"text":"hi"}` {
		t.Fatalf("result=%q, want %q", result, `{"text":"hi"}`)
	}
}

func TestDispatchUnknownFunction(t *testing.T) {
	reg := New(nil)

	result := reg.Dispatch(context.Background(), "missing", `{}`)

	var payload map[string]string
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("payload=%v, want error field", payload)
	}
}

func TestDispatchHandlerFailure(t *testing.T) {
	reg := New(nil)
	reg.Register(objectSchema("boom"), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "", errors.New("upstream timeout")
	})

	result := reg.Dispatch(context.Background(), "boom", `{}`)

	var payload map[string]string
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload["error"] != "upstream timeout" {
		t.Fatalf("error=%q, want %q", payload["error"], "upstream timeout")
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	reg := New(nil)
	calls := 0
	reg.Register(objectSchema("strict"), func(_ context.Context, _ json.RawMessage) (string, error) {
		calls++
		return "ok", nil
	})

	result := reg.Dispatch(context.Background(), "strict", `{"broken":`)
	if calls != 0 {
		t.Fatalf("handler calls=%d, want 0", calls)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("payload=%v, want error field", payload)
	}
}

func TestDispatchEmptyArgumentsDefaultToObject(t *testing.T) {
	reg := New(nil)
	reg.Register(objectSchema("noargs"), func(_ context.Context, args json.RawMessage) (string, error) {
		if string(args) != "{}" {
			t.Fatalf("args=%s, want {}", args)
		}
		return "done", nil
	})

	if got := reg.Dispatch(context.Background(), "noargs", ""); got != "done" {
		t.Fatalf("result=%q, want %q", got, "done")
	}
}

func TestRegisterDuplicateNameReplaces(t *testing.T) {
	reg := New(nil)
	reg.Register(objectSchema("first"), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "old", nil
	})
	reg.Register(objectSchema("second"), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "second", nil
	})
	reg.Register(objectSchema("first"), func(_ context.Context, _ json.RawMessage) (string, error) {
		return "new", nil
	})

	if got := reg.Dispatch(context.Background(), "first", "{}"); got != "new" {
		t.Fatalf("result=%q, want %q", got, "new")
	}

	schemas := reg.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("schemas=%d, want 2", len(schemas))
	}
	if schemas[0].Name != "first" || schemas[1].Name != "second" {
		t.Fatalf("schema order=%s,%s, want first,second", schemas[0].Name, schemas[1].Name)
	}
}

func TestSchemasForceFunctionType(t *testing.T) {
	reg := New(nil)
	reg.Register(Schema{Name: "typed", Type: "tool"}, func(_ context.Context, _ json.RawMessage) (string, error) {
		return "", nil
	})

	schemas := reg.Schemas()
	if schemas[0].Type != "function" {
		t.Fatalf("type=%q, want %q", schemas[0].Type, "function")
	}
}
