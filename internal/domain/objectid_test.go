package domain

import (
	"errors"
	"testing"
)

func TestNormalizeObjectID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"short", "0x2", "0x0000000000000000000000000000000000000000000000000000000000000002", false},
		{"upper", "0xABCD", "0x000000000000000000000000000000000000000000000000000000000000abcd", false},
		{"no prefix", "ff", "0x00000000000000000000000000000000000000000000000000000000000000ff", false},
		{"full", "0x1111111111111111111111111111111111111111111111111111111111111111", "0x1111111111111111111111111111111111111111111111111111111111111111", false},
		{"empty", "0x", "", true},
		{"not hex", "0xzz", "", true},
		{"too long", "0x11111111111111111111111111111111111111111111111111111111111111111", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeObjectID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidObjectID) {
					t.Fatalf("expected ErrInvalidObjectID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
