package signature

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"whitespace", "  hello  ", "hello"},
		{"think block", "<think>reasoning</think>answer", "answer"},
		{"markdown image", "look ![alt](http://x/y.png) here", "look  here"},
		{"carriage returns", "a\r\nb\r", "a\nb"},
		{"combined", "<think>x</think>\r\n result ![i](u) \r", "result"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.input); got != tc.want {
			t.Errorf("%s: Normalize(%q) = %q, want %q", tc.name, tc.input, got, tc.want)
		}
	}
}

func TestToolCallSignatures(t *testing.T) {
	cache := NewCache()
	cache.StoreToolCall("call_1", "sig-1")

	if got := cache.ToolCallSignature("call_1"); got != "sig-1" {
		t.Errorf("got %q", got)
	}
	if got := cache.ToolCallSignature("call_2"); got != "" {
		t.Errorf("missing id should yield empty, got %q", got)
	}

	// Empty inputs are ignored.
	cache.StoreToolCall("", "sig")
	cache.StoreToolCall("id", "")
	if cache.Len() != 1 {
		t.Errorf("empty inputs must not be stored, len = %d", cache.Len())
	}
}

func TestTextSignatureLookupOrder(t *testing.T) {
	cache := NewCache()
	cache.StoreText("the answer\r\n", "sig-x")

	// Exact text as emitted matches via normalization.
	if sig, original, ok := cache.TextSignature("the answer"); !ok || sig != "sig-x" || original != "the answer\r\n" {
		t.Errorf("normalized lookup failed: sig=%q original=%q ok=%v", sig, original, ok)
	}
	// Trimmed variant.
	if sig, _, ok := cache.TextSignature("  the answer  "); !ok || sig != "sig-x" {
		t.Errorf("trimmed lookup failed: sig=%q ok=%v", sig, ok)
	}
	// Miss.
	if _, _, ok := cache.TextSignature("something else"); ok {
		t.Error("unrelated text must miss")
	}
}

func TestClear(t *testing.T) {
	cache := NewCache()
	cache.StoreToolCall("id", "sig")
	cache.StoreText("text", "sig")
	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("len after clear = %d", cache.Len())
	}
}
