package pgutils

import (
	"testing"
)

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"multiple", []float32{0.1, 0.2, 0.3}, "[0.1,0.2,0.3]"},
		{"negative", []float32{-1, 2}, "[-1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVector(tt.in); got != tt.want {
				t.Errorf("FormatVector(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseVector_RoundTrip(t *testing.T) {
	in := []float32{0.125, -3.5, 0, 42}
	out, err := ParseVector(FormatVector(in))
	if err != nil {
		t.Fatalf("ParseVector() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestParseVector_Malformed(t *testing.T) {
	for _, in := range []string{"", "1,2,3", "[1,x]", "[1 2]"} {
		if _, err := ParseVector(in); err == nil {
			t.Errorf("ParseVector(%q) should fail", in)
		}
	}
}

func TestParseVector_Empty(t *testing.T) {
	out, err := ParseVector("[]")
	if err != nil {
		t.Fatalf("ParseVector([]) error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("ParseVector([]) = %v, want empty", out)
	}
}
