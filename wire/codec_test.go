package wire

import (
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", []string{""}},
		{"EMG_POP", []string{"EMG_POP"}},
		{"REGISTER|alice|7", []string{"REGISTER", "alice", "7"}},
		{"a||b", []string{"a", "", "b"}},
		{"|", []string{"", ""}},
		{`a\|b|c`, []string{"a|b", "c"}},
		{`a\\|b`, []string{`a\`, "b"}},
		{`a\\\|b`, []string{`a\|b`}},
		{`\x\y`, []string{"xy"}},
		{`trail\`, []string{`trail\`}},
		{`x|\`, []string{"x", `\`}},
		{"APPT_INSERT|1|5|9|2024-01-01T10:00", []string{"APPT_INSERT", "1", "5", "9", "2024-01-01T10:00"}},
	}
	for _, tt := range tests {
		got := Decode(tt.line)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Decode(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		fields []string
		want   string
	}{
		{[]string{"OK", "7"}, "OK|7"},
		{[]string{"OK", ""}, "OK|"},
		{[]string{"ERR", "usage: REGISTER|username|user_id"}, `ERR|usage: REGISTER\|username\|user_id`},
		{[]string{`a\b`}, `a\\b`},
		{[]string{"5:flu\r"}, "5:flu\\\r"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := Encode(tt.fields...); got != tt.want {
			t.Errorf("Encode(%q) = %q, want %q", tt.fields, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]string{
		{""},
		{"", ""},
		{"|"},
		{`\`},
		{`\|`, `|\`},
		{`\\`, "||", "plain"},
		{"a|b\\c", "", "d"},
	}
	for _, fields := range cases {
		got := Decode(Encode(fields...))
		if !reflect.DeepEqual(got, fields) {
			t.Errorf("Decode(Encode(%q)) = %q", fields, got)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	alphabet := []byte{'a', 'b', '|', '\\', ':', ' ', '\r'}
	for i := 0; i < 2000; i++ {
		fields := make([]string, 1+rng.IntN(5))
		for j := range fields {
			var b strings.Builder
			for k := rng.IntN(8); k > 0; k-- {
				b.WriteByte(alphabet[rng.IntN(len(alphabet))])
			}
			fields[j] = b.String()
		}
		got := Decode(Encode(fields...))
		if !reflect.DeepEqual(got, fields) {
			t.Fatalf("Decode(Encode(%q)) = %q", fields, got)
		}
	}
}
