package domain

import "testing"

func TestMarketPrefix(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"600519", "sh"},
		{"510300", "sh"},
		{"900901", "sh"},
		{"000001", "sz"},
		{"300750", "sz"},
		{"002594", "sz"},
		{"430047", "bj"},
		{"830799", "bj"},
		{"871981", "bj"},
		{"920002", "bj"}, // 92 wins over the 9 → sh rule
	}
	for _, c := range cases {
		if got := MarketPrefix(c.code); got != c.want {
			t.Errorf("MarketPrefix(%q) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"600519", "sh600519"},
		{"000001", "sz000001"},
		{"430047", "bj430047"},
		{"sh600519", "sh600519"},
		{"SZ000001", "sz000001"},
		{"700", "hk00700"},
		{"9988", "hk09988"},
		{"hk00700", "hk00700"},
	}
	for _, c := range cases {
		if got := WithPrefix(c.in); got != c.want {
			t.Errorf("WithPrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sh600519", "600519"},
		{"600519", "600519"},
		{"1", "000001"}, // short non-HK-length codes pad to 6
		{"700", "00700"},
		{"hk700", "00700"},
		{"hk00700", "00700"},
	}
	for _, c := range cases {
		if got := NormalizeCode(c.in); got != c.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidCode(t *testing.T) {
	valid := []string{"600519", "000001", "430047", "sh600519", "hk700", "hk00700", "700", "09988"}
	for _, c := range valid {
		if !ValidCode(c) {
			t.Errorf("ValidCode(%q) = false, want true", c)
		}
	}
	invalid := []string{"", "60051", "6005190a", "hk123456", "sh60051", "abcdef", "12"}
	for _, c := range invalid {
		if ValidCode(c) {
			t.Errorf("ValidCode(%q) = true, want false", c)
		}
	}
}

func TestIsIndexCode(t *testing.T) {
	if !IsIndexCode("sh000001") {
		t.Error("sh000001 should be an index code")
	}
	if !IsIndexCode("sz399001") {
		t.Error("sz399001 should be an index code")
	}
	if !IsIndexCode("^HSI") {
		t.Error("^HSI should be an index code")
	}
	if IsIndexCode("sh600519") {
		t.Error("sh600519 should not be an index code")
	}
}

func TestQuoteChangePct(t *testing.T) {
	q := Quote{Now: 110, PrevClose: 100}
	if got := q.ChangePct(); got != 10 {
		t.Errorf("ChangePct = %v, want 10", got)
	}
	zero := Quote{Now: 110}
	if got := zero.ChangePct(); got != 0 {
		t.Errorf("ChangePct with no prev close = %v, want 0", got)
	}
}
