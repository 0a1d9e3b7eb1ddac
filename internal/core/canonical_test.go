package core

import (
	"encoding/json"
	"testing"
)

func TestHash_KeyOrderIrrelevant(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"y": "2", "x": []any{"z", map[string]any{"q": 1, "p": 2}}}}
	b := map[string]any{"a": map[string]any{"x": []any{"z", map[string]any{"p": 2, "q": 1}}, "y": "2"}, "b": 1}

	h1, err := Hash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	h2, err := Hash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("different key order produced different hashes: %s vs %s", h1, h2)
	}
}

func TestHash_RawJSONMatchesStruct(t *testing.T) {
	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	h1, err := Hash(doc{Name: "quote", Count: 3})
	if err != nil {
		t.Fatalf("hash struct: %v", err)
	}
	h2, err := Hash(json.RawMessage(`{ "count": 3,  "name": "quote" }`))
	if err != nil {
		t.Fatalf("hash raw: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("struct and equivalent raw json hashed differently: %s vs %s", h1, h2)
	}
}

func TestCanonicalJSON_NoHTMLEscape(t *testing.T) {
	out, err := CanonicalJSON(map[string]string{"k": "<a&b>"})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(out) != `{"k":"<a&b>"}` {
		t.Fatalf("unexpected canonical output %s", out)
	}
}

func TestHash_DifferentPayload(t *testing.T) {
	h1, _ := Hash(map[string]string{"message": "hello"})
	h2, _ := Hash(map[string]string{"message": "world"})
	if h1 == h2 {
		t.Fatal("different payloads produced same hash")
	}
}

func TestHash_Unserializable(t *testing.T) {
	if _, err := Hash(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for unserializable payload")
	}
}

func TestHashBytes_Empty(t *testing.T) {
	const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashBytes(nil); got != emptySHA {
		t.Fatalf("expected %s, got %s", emptySHA, got)
	}
}

func TestComputeRequestHash_KeyOrderIrrelevant(t *testing.T) {
	body1 := json.RawMessage(`{"subject_id":"q-1","evidence_type":"quote_acceptance"}`)
	body2 := json.RawMessage(`{"evidence_type":"quote_acceptance","subject_id":"q-1"}`)
	h1 := ComputeRequestHash(body1, "POST", "/v1/tenants/t-1/packs")
	h2 := ComputeRequestHash(body2, "POST", "/v1/tenants/t-1/packs")
	if h1 != h2 {
		t.Fatalf("different key order produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeRequestHash_DifferentMethod(t *testing.T) {
	body := json.RawMessage(`{"subject_id":"q-1"}`)
	h1 := ComputeRequestHash(body, "POST", "/v1/tenants/t-1/packs")
	h2 := ComputeRequestHash(body, "DELETE", "/v1/tenants/t-1/packs")
	if h1 == h2 {
		t.Fatal("different methods produced same hash")
	}
}

func TestHash_LargeIntegersKeepPrecision(t *testing.T) {
	h1, err := Hash(json.RawMessage(`{"amount_minor":9007199254740993}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(json.RawMessage(`{"amount_minor":9007199254740992}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("integers beyond 2^53 collapsed to the same hash")
	}
	out, err := CanonicalJSON(json.RawMessage(`{"amount_minor":9007199254740993}`))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(out) != `{"amount_minor":9007199254740993}` {
		t.Fatalf("unexpected canonical output %s", out)
	}
}

func TestHash_EqualNumbersShareOneSpelling(t *testing.T) {
	h1, _ := Hash(json.RawMessage(`{"rate":1.50,"qty":1e3}`))
	h2, _ := Hash(json.RawMessage(`{"rate":1.5,"qty":1000}`))
	if h1 != h2 {
		t.Fatalf("equal numbers hashed differently: %s vs %s", h1, h2)
	}
}

func TestCanonicalNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0", "0"},
		{"-0", "0"},
		{"-0.0", "0"},
		{"42", "42"},
		{"100", "100"},
		{"-17", "-17"},
		{"1.50", "1.5"},
		{"15e-1", "1.5"},
		{"1E+3", "1000"},
		{"0.001", "0.001"},
		{"0.0000001", "1e-7"},
		{"12345678901234567890123", "1.2345678901234567890123e22"},
		{"9007199254740993", "9007199254740993"},
		{"1e400", "1e400"},
	}
	for _, tt := range tests {
		if got := CanonicalNumber(tt.in); got != tt.want {
			t.Errorf("CanonicalNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
