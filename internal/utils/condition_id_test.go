package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

func TestNormalizeConditionID(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	canonical := "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "prefixed hex",
			input: canonical,
			want:  canonical,
		},
		{
			name:  "bare hex",
			input: strings.TrimPrefix(canonical, "0x"),
			want:  canonical,
		},
		{
			name:  "uppercase hex",
			input: "0x" + strings.ToUpper(strings.TrimPrefix(canonical, "0x")),
			want:  canonical,
		},
		{
			name:  "surrounding whitespace",
			input: "  " + canonical + "\n",
			want:  canonical,
		},
		{
			name:  "base58 account key",
			input: base58.Encode(raw),
			want:  canonical,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "wrong length hex",
			input:   "0xabcdef",
			wantErr: true,
		},
		{
			name:    "non-hex at canonical length",
			input:   "0x" + strings.Repeat("zz", 32),
			wantErr: true,
		},
		{
			name:    "base58 of wrong byte length",
			input:   base58.Encode(raw[:16]),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeConditionID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestConditionIDBytesRoundTrip(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(0xa0 + i%16)
	}

	decoded, err := ConditionIDBytes(base58.Encode(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("round trip mismatch: %x != %x", decoded, raw)
	}
}
