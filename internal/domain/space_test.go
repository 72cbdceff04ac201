package domain

import (
	"testing"
)

func TestBetween(t *testing.T) {
	sp, _ := NewSpace(8, 2)

	id := func(hex string) ID {
		x, err := sp.FromHexString(hex)
		if err != nil {
			t.Fatalf("FromHexString(%q) failed: %v", hex, err)
		}
		return x
	}

	tests := []struct {
		name    string
		x, a, b string
		want    bool
	}{
		{"strictly inside linear interval", "0x10", "0x05", "0x20", true},
		{"equals upper bound (closed)", "0x20", "0x05", "0x20", true},
		{"equals lower bound (excluded)", "0x05", "0x05", "0x20", false},
		{"outside linear interval", "0x30", "0x05", "0x20", false},
		{"wrap-around interval, below zero crossing", "0xf0", "0xe0", "0x10", true},
		{"wrap-around interval, above zero crossing", "0x05", "0xe0", "0x10", true},
		{"wrap-around interval, outside", "0x50", "0xe0", "0x10", false},
		{"singleton ring, a==b covers everything", "0x77", "0x20", "0x20", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := id(tt.x).Between(id(tt.a), id(tt.b))
			if got != tt.want {
				t.Errorf("Between(%s, %s, %s) = %v, want %v", tt.x, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestBetweenOpen(t *testing.T) {
	sp, _ := NewSpace(8, 2)

	id := func(hex string) ID {
		x, err := sp.FromHexString(hex)
		if err != nil {
			t.Fatalf("FromHexString(%q) failed: %v", hex, err)
		}
		return x
	}

	tests := []struct {
		name    string
		x, a, b string
		want    bool
	}{
		{"strictly inside", "0x10", "0x05", "0x20", true},
		{"equals upper bound, excluded", "0x20", "0x05", "0x20", false},
		{"equals lower bound, excluded", "0x05", "0x05", "0x20", false},
		{"singleton, a==b excludes only a", "0x20", "0x20", "0x20", false},
		{"singleton, a==b includes everything else", "0x21", "0x20", "0x20", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := id(tt.x).BetweenOpen(id(tt.a), id(tt.b))
			if got != tt.want {
				t.Errorf("BetweenOpen(%s, %s, %s) = %v, want %v", tt.x, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFingerStart(t *testing.T) {
	sp, _ := NewSpace(8, 2)

	self, err := sp.FromHexString("0x10")
	if err != nil {
		t.Fatalf("FromHexString failed: %v", err)
	}

	tests := []struct {
		i    int
		want string
	}{
		{0, "11"}, // 0x10 + 2^0
		{1, "12"}, // 0x10 + 2^1
		{4, "20"}, // 0x10 + 2^4
		{7, "90"}, // 0x10 + 2^7
	}

	for _, tt := range tests {
		got := sp.FingerStart(self, tt.i)
		if got.ToHexString(false) != tt.want {
			t.Errorf("FingerStart(0x10, %d) = %s, want %s", tt.i, got.ToHexString(false), tt.want)
		}
	}
}

func TestFingerStartWraps(t *testing.T) {
	sp, _ := NewSpace(8, 2)

	self, err := sp.FromHexString("0xf0")
	if err != nil {
		t.Fatalf("FromHexString failed: %v", err)
	}

	// 0xf0 + 2^4 = 0x100 -> wraps to 0x00 mod 2^8
	got := sp.FingerStart(self, 4)
	if got.ToHexString(false) != "00" {
		t.Errorf("FingerStart wraparound = %s, want 00", got.ToHexString(false))
	}
}

func TestAddMod(t *testing.T) {
	sp, _ := NewSpace(8, 2)

	a, _ := sp.FromHexString("0xf0")
	b, _ := sp.FromHexString("0x20")

	got, err := sp.AddMod(a, b)
	if err != nil {
		t.Fatalf("AddMod failed: %v", err)
	}
	// 0xf0 + 0x20 = 0x110 -> mod 256 = 0x10
	if got.ToHexString(false) != "10" {
		t.Errorf("AddMod(0xf0, 0x20) = %s, want 10", got.ToHexString(false))
	}
}

func TestAddModRejectsInvalidLength(t *testing.T) {
	sp, _ := NewSpace(16, 2)
	short := ID{0x01}
	full, _ := sp.FromHexString("0x01")

	if _, err := sp.AddMod(short, full); err == nil {
		t.Errorf("AddMod with wrong-length operand should fail")
	}
}

func TestFromHexStringRejectsOutOfSpace(t *testing.T) {
	sp, _ := NewSpace(4, 2) // 4-bit space, byte length 1, top nibble unused

	if _, err := sp.FromHexString("0xff"); err == nil {
		t.Errorf("expected FromHexString to reject a value exceeding the 4-bit space")
	}
	if _, err := sp.FromHexString("0x0f"); err != nil {
		t.Errorf("expected 0x0f to be valid in a 4-bit space, got error: %v", err)
	}
}

func TestNewIdFromStringDeterministic(t *testing.T) {
	sp, _ := NewSpace(160, 2)

	a := sp.NewIdFromString("node-1:5000")
	b := sp.NewIdFromString("node-1:5000")
	c := sp.NewIdFromString("node-2:5000")

	if !a.Equal(b) {
		t.Errorf("NewIdFromString should be deterministic for the same input")
	}
	if a.Equal(c) {
		t.Errorf("NewIdFromString should differ for different inputs")
	}
	if err := sp.IsValidID(a); err != nil {
		t.Errorf("derived ID should be valid: %v", err)
	}
}
