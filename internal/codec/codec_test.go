package codec

import (
	"slices"
	"testing"

	"github.com/Iron-Ham/singleinstance/internal/errors"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty sequence", []string{}},
		{"single program path", []string{"app.exe"}},
		{"typical", []string{"app.exe", "--open", "file.txt"}},
		{"empty strings", []string{"", "app", "", ""}},
		{"spaces and quotes", []string{`C:\Program Files\app.exe`, `say "hi"`, "a b  c"}},
		{"control characters", []string{"tab\there", "nl\nline", "nul\x00byte", "\x1b[31mred"}},
		{"unicode", []string{"日本語", "emoji 🚀", "combining e\u0301", "\u2028\u2029"}},
		{"html sensitive", []string{"<script>", "a&b", "x>y"}},
		{"json lookalike", []string{`["nested"]`, `{"k":1}`, "null"}},
		{"latin-1 file name", []string{"app", "--open", "caf\xe9.txt"}},
		{"invalid utf-8 only", []string{"\xff\xfe", "", "\x80"}},
		{"truncated rune", []string{"日本"[:4], "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.args)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !slices.Equal(got, tt.args) {
				t.Errorf("Decode(Encode(x)) = %q, want %q", got, tt.args)
			}
		})
	}
}

func TestEncode_NilIsEmptyArray(t *testing.T) {
	payload, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil) error = %v", err)
	}
	if string(payload) != "[]" {
		t.Errorf("Encode(nil) = %q, want []", payload)
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Decode([]) = %#v, want empty non-nil slice", got)
	}
}

func TestEncode_WireForm(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"utf-8 stays a plain array", []string{"app", "--open", "café.txt"}, `["app","--open","café.txt"]`},
		{"invalid utf-8 switches to base64", []string{"app", "caf\xe9"}, `{"base64":["YXBw","Y2Fm6Q=="]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.args)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(payload) != tt.want {
				t.Errorf("Encode(%q) = %s, want %s", tt.args, payload, tt.want)
			}
		})
	}
}

func TestDecode_Permissive(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"trailing comma", `["app", "--open",]`, []string{"app", "--open"}},
		{"surrounding whitespace", "\n  [\"a\"]  \n", []string{"a"}},
		{"line comment", "[\"a\", // note\n \"b\"]", []string{"a", "b"}},
		{"block comment", `[/* c */ "a"]`, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.payload, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Decode(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"nil", nil},
		{"blank", []byte("   ")},
		{"truncated", []byte(`["app.exe","--op`)},
		{"unterminated array", []byte(`["app.exe"`)},
		{"trailing garbage", []byte(`["a"] ["b"]`)},
		{"null", []byte("null")},
		{"object", []byte(`{"args":["a"]}`)},
		{"string", []byte(`"a"`)},
		{"number elements", []byte(`[1,2]`)},
		{"number element", []byte(`[1]`)},
		{"null element", []byte(`["app", null, "x"]`)},
		{"only null element", []byte(`[null]`)},
		{"nested array element", []byte(`["app", ["x"]]`)},
		{"base64 null list", []byte(`{"base64":null}`)},
		{"base64 null element", []byte(`{"base64":["YXBw",null]}`)},
		{"base64 bad element", []byte(`{"base64":["not base64!"]}`)},
		{"base64 number element", []byte(`{"base64":[1]}`)},
		{"binary", []byte{0xff, 0xfe, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.payload)
			if err == nil {
				t.Fatalf("Decode(%q) = %q, want error", tt.payload, got)
			}
			if got != nil {
				t.Errorf("Decode(%q) returned partial data %q", tt.payload, got)
			}
			if !errors.Is(err, errors.ErrDecode) {
				t.Errorf("error %v should match ErrDecode", err)
			}
			var decodeErr *errors.DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error %T should be *errors.DecodeError", err)
			}
			if decodeErr.Size != len(tt.payload) {
				t.Errorf("Size = %d, want %d", decodeErr.Size, len(tt.payload))
			}
		})
	}
}
