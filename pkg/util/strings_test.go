package util

import "testing"

func TestParseIntDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 5, 5},
		{"12", 5, 12},
		{"x", 5, 5},
		{"-3", 5, -3},
	}
	for _, tc := range cases {
		if got := ParseIntDefault(tc.in, tc.def); got != tc.want {
			t.Errorf("ParseIntDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestClampInt(t *testing.T) {
	if ClampInt(0, 1, 10) != 1 || ClampInt(11, 1, 10) != 10 || ClampInt(4, 1, 10) != 4 {
		t.Fatalf("ClampInt out of bounds")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT":  "BTC/USDT",
		"eth_usdt":  "ETH/USDT",
		"SOL/USDT":  "SOL/USDT",
		" doge-usd": "DOGE/USD",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
