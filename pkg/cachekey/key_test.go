package cachekey

import (
	"strings"
	"testing"
)

func TestDerive_Deterministic(t *testing.T) {
	req := Request{
		Client:   "demo",
		Endpoint: "/search",
		Method:   "GET",
		Version:  "v2",
		Params:   map[string]any{"q": "widgets", "page": "1"},
	}

	first := Derive(req)
	for i := 0; i < 10; i++ {
		if got := Derive(req); got != first {
			t.Fatalf("Derive not deterministic: %s != %s", got, first)
		}
	}

	if len(first) != 64 {
		t.Errorf("Expected 64 hex chars (SHA-256), got %d: %s", len(first), first)
	}
	if strings.ToLower(first) != first {
		t.Errorf("Expected lowercase hex, got %s", first)
	}
}

func TestDerive_ParamOrderInvariant(t *testing.T) {
	// Maps iterate in random order; building the same logical parameter
	// set several ways must always produce the same key.
	base := Derive(Request{
		Client: "demo", Endpoint: "/search", Method: "GET",
		Params: map[string]any{
			"a": "1", "b": "2", "c": "3",
			"nested": map[string]any{"x": "9", "y": "8"},
		},
	})

	for i := 0; i < 20; i++ {
		params := map[string]any{}
		params["c"] = "3"
		params["nested"] = map[string]any{"y": "8", "x": "9"}
		params["a"] = "1"
		params["b"] = "2"

		got := Derive(Request{
			Client: "demo", Endpoint: "/search", Method: "GET", Params: params,
		})
		if got != base {
			t.Fatalf("Permuted params changed key: %s != %s", got, base)
		}
	}
}

func TestDerive_Sensitivity(t *testing.T) {
	base := Request{
		Client:   "demo",
		Endpoint: "/search",
		Method:   "GET",
		Version:  "v2",
		Params:   map[string]any{"q": "widgets"},
	}
	baseKey := Derive(base)

	tests := []struct {
		name   string
		mutate func(r Request) Request
	}{
		{"different client", func(r Request) Request { r.Client = "other"; return r }},
		{"different endpoint", func(r Request) Request { r.Endpoint = "/lookup"; return r }},
		{"different method", func(r Request) Request { r.Method = "POST"; return r }},
		{"different version", func(r Request) Request { r.Version = "v3"; return r }},
		{"no version", func(r Request) Request { r.Version = ""; return r }},
		{"different param value", func(r Request) Request {
			r.Params = map[string]any{"q": "gadgets"}
			return r
		}},
		{"extra param", func(r Request) Request {
			r.Params = map[string]any{"q": "widgets", "page": "2"}
			return r
		}},
		{"renamed param", func(r Request) Request {
			r.Params = map[string]any{"query": "widgets"}
			return r
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.mutate(base)); got == baseKey {
				t.Errorf("Expected mutation to change key, got same: %s", got)
			}
		})
	}
}

func TestDerive_TypeDistinction(t *testing.T) {
	// 42 and "42" are different parameter values and must produce
	// different fingerprints when encoded without coercion.
	numKey := Derive(Request{
		Client: "demo", Endpoint: "/items", Method: "POST",
		Params: map[string]any{"id": 42},
	})
	strKey := Derive(Request{
		Client: "demo", Endpoint: "/items", Method: "POST",
		Params: map[string]any{"id": "42"},
	})
	if numKey == strKey {
		t.Error("Numeric and string parameter values collided")
	}
}

func TestDerive_EndpointSlashNormalization(t *testing.T) {
	a := Derive(Request{Client: "demo", Endpoint: "/search/", Method: "GET"})
	b := Derive(Request{Client: "demo", Endpoint: "search", Method: "GET"})
	if a != b {
		t.Error("Leading/trailing slashes should not change the key")
	}
}

func TestDerive_MethodCaseInsensitive(t *testing.T) {
	a := Derive(Request{Client: "demo", Endpoint: "/search", Method: "get"})
	b := Derive(Request{Client: "demo", Endpoint: "/search", Method: "GET"})
	if a != b {
		t.Error("Method casing should not change the key")
	}
}

func TestCanonical_SortedNested(t *testing.T) {
	got := Canonical(map[string]any{
		"b": map[string]any{"z": "1", "a": "2"},
		"a": []any{"x", map[string]any{"k2": "v", "k1": "u"}},
	})
	want := `{"a":["x",{"k1":"u","k2":"v"}],"b":{"a":"2","z":"1"}}`
	if got != want {
		t.Errorf("Canonical mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestNormalizeParams_DropsNils(t *testing.T) {
	got := NormalizeParams(map[string]any{
		"keep": "yes",
		"drop": nil,
		"nested": map[string]any{
			"inner": nil,
			"value": "v",
		},
	}, "POST")

	if _, ok := got["drop"]; ok {
		t.Error("nil value should be dropped")
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested map lost: %v", got)
	}
	if _, ok := nested["inner"]; ok {
		t.Error("nested nil value should be dropped")
	}
	if nested["value"] != "v" {
		t.Errorf("nested value lost: %v", nested)
	}
}

func TestNormalizeParams_QueryCoercion(t *testing.T) {
	// GET parameters travel on the query string, so 3 and "3" are the
	// same wire request and must normalize identically.
	numeric := NormalizeParams(map[string]any{"page": 3, "ratio": 2.5}, "GET")
	stringly := NormalizeParams(map[string]any{"page": "3", "ratio": "2.5"}, "GET")

	if numeric["page"] != stringly["page"] {
		t.Errorf("page did not coerce: %v vs %v", numeric["page"], stringly["page"])
	}
	if numeric["ratio"] != stringly["ratio"] {
		t.Errorf("ratio did not coerce: %v vs %v", numeric["ratio"], stringly["ratio"])
	}

	// POST keeps types as-is.
	post := NormalizeParams(map[string]any{"page": 3}, "POST")
	if _, ok := post["page"].(int); !ok {
		t.Errorf("POST params should keep their types, got %T", post["page"])
	}
}

func TestNormalizeParams_NilMap(t *testing.T) {
	got := NormalizeParams(nil, "GET")
	if got == nil {
		t.Fatal("Expected empty map, got nil")
	}
	if len(got) != 0 {
		t.Errorf("Expected empty map, got %v", got)
	}
}
