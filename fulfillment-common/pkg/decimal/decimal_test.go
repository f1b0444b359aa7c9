package decimal

import (
	"math/big"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		input     string
		wantVal   int64
		wantScale int
		wantErr   bool
	}{
		{"0", 0, 0, false},
		{"10", 10, 0, false},
		{"12.34", 1234, 2, false},
		{"-0.001", -1, 3, false},
		{"", 0, 0, false},
		{"invalid", 0, 0, true},
		{"-", 0, 0, true},
		{"1.+2", 0, 0, true},
	}

	for _, tt := range tests {
		got, err := New(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr {
			if got.int().Cmp(big.NewInt(tt.wantVal)) != 0 {
				t.Errorf("New(%q) value = %s, want %d", tt.input, got.int().String(), tt.wantVal)
			}
			if got.scale != tt.wantScale {
				t.Errorf("New(%q) scale = %d, want %d", tt.input, got.scale, tt.wantScale)
			}
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		got  Decimal
		want string
	}{
		{"add aligns scale", MustNew("1").Add(MustNew("0.1")), "1.1"},
		{"add binary-unsafe", FromFloat(0.1).Add(FromFloat(0.2)), "0.3"},
		{"sub to negative", MustNew("0.05").Sub(MustNew("0.1")), "-0.05"},
		{"mul quantity", FromFloat(10.0).Mul(FromInt(2)), "20"},
		{"mul fractions", MustNew("0.05").Mul(FromInt(3)), "0.15"},
		{"zero value", Decimal{}, "0"},
	}

	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got.String(), tt.want)
		}
	}
}

func TestCmpAndFloat(t *testing.T) {
	if FromFloat(0.05).Cmp(FromFloat(0.1)) != -1 {
		t.Fatal("expected 0.05 < 0.1")
	}
	if MustNew("0.10").Cmp(FromFloat(0.1)) != 0 {
		t.Fatal("expected 0.10 == 0.1")
	}
	if MustNew("25.000").Float64() != 25 {
		t.Fatalf("Float64 = %v", MustNew("25.000").Float64())
	}
	if !Zero.IsZero() || Zero.IsNegative() {
		t.Fatal("unexpected zero predicates")
	}
	if !MustNew("-1").IsNegative() {
		t.Fatal("expected negative")
	}
}
