package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CanonicalJSON produces the deterministic serialization every fingerprint in
// the system is computed over: object keys sorted recursively, no
// insignificant whitespace, no HTML escaping, numbers in shortest exact
// decimal form.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	generic = normalizeNumbers(generic)
	// encoding/json emits map[string]any keys in sorted order at every depth.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode canonical: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalizeNumbers(child)
		}
	case []any:
		for i, child := range t {
			t[i] = normalizeNumbers(child)
		}
	case json.Number:
		return json.Number(CanonicalNumber(string(t)))
	}
	return v
}

// CanonicalNumber rewrites a JSON number literal without loss of precision so
// that equal values share one spelling: "1.50", "15e-1" and "1.5" all become
// "1.5", "1e3" becomes "1000". Integers keep every digit.
func CanonicalNumber(lit string) string {
	neg := strings.HasPrefix(lit, "-")
	mant, exp := strings.TrimPrefix(lit, "-"), 0
	if i := strings.IndexAny(mant, "eE"); i >= 0 {
		e, err := strconv.Atoi(mant[i+1:])
		if err != nil {
			return lit
		}
		mant, exp = mant[:i], e
	}
	intPart, frac, _ := strings.Cut(mant, ".")
	digits := strings.TrimLeft(intPart+frac, "0")
	exp -= len(frac)
	if digits == "" {
		return "0"
	}
	trimmed := strings.TrimRight(digits, "0")
	exp += len(digits) - len(trimmed)
	digits = trimmed

	n := len(digits)
	var out string
	switch {
	case exp >= 0 && n+exp <= 21:
		out = digits + strings.Repeat("0", exp)
	case exp < 0 && n+exp > 0:
		out = digits[:n+exp] + "." + digits[n+exp:]
	case exp < 0 && n+exp > -6:
		out = "0." + strings.Repeat("0", -(n+exp)) + digits
	default:
		out = digits[:1]
		if n > 1 {
			out += "." + digits[1:]
		}
		out += "e" + strconv.Itoa(exp+n-1)
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Hash returns the hex SHA-256 of the canonical serialization of v.
func Hash(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return HashBytes(canonical), nil
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ComputeRequestHash computes SHA-256(canonical(body) + method + path).
func ComputeRequestHash(body json.RawMessage, method, path string) string {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		canonical = body
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(method))
	h.Write([]byte(path))
	return fmt.Sprintf("%x", h.Sum(nil))
}
