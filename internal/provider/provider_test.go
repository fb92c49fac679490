package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// --- Tencent ---

func TestParseTencentKline(t *testing.T) {
	body := []byte(`{"code":0,"msg":"","data":{"sh600519":{"qfqday":[
		["2024-06-13","1650.00","1660.50","1670.00","1645.00","25000"],
		["2024-06-14","1661.00","1655.20","1668.00","1650.10","31000"]
	],"qt":{}}}}`)

	bars, err := parseTencentKline(body, "sh600519", "600519")
	if err != nil {
		t.Fatalf("parseTencentKline: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	first := bars[0]
	if first.Symbol != "600519" || first.Date != "2024-06-13" {
		t.Errorf("first bar = %+v", first)
	}
	if first.Open != 1650 || first.Close != 1660.5 || first.High != 1670 || first.Low != 1645 {
		t.Errorf("first bar OHLC = %+v", first)
	}
	if bars[0].Date >= bars[1].Date {
		t.Error("bars should be ascending by date")
	}
}

func TestParseTencentKlineFallsBackToDay(t *testing.T) {
	body := []byte(`{"data":{"sz000001":{"day":[
		["2024-06-14","10.00","10.20","10.30","9.90","500000"]
	]}}}`)

	bars, err := parseTencentKline(body, "sz000001", "000001")
	if err != nil {
		t.Fatalf("parseTencentKline: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 10.2 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestParseTencentKlineUnknownSymbol(t *testing.T) {
	body := []byte(`{"data":{}}`)
	if _, err := parseTencentKline(body, "sh600519", "600519"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestParseTencentQuotes(t *testing.T) {
	// 45 ~-separated fields; positions beyond those asserted are filler.
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[1] = "贵州茅台"
	fields[2] = "600519"
	fields[3] = "1655.20"
	fields[4] = "1648.00"
	fields[5] = "1650.00"
	fields[6] = "31000"
	fields[9] = "1655.10"
	fields[19] = "1655.30"
	fields[33] = "1668.00"
	fields[34] = "1650.10"
	fields[37] = "512345"
	line := `v_sh600519="` + strings.Join(fields, "~") + `";`

	asOf := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	quotes := parseTencentQuotes(line, asOf)

	q, ok := quotes["600519"]
	if !ok {
		t.Fatalf("quotes = %v, missing 600519", quotes)
	}
	if q.Name != "贵州茅台" || q.Now != 1655.2 || q.PrevClose != 1648 || q.Open != 1650 {
		t.Errorf("quote = %+v", q)
	}
	if q.High != 1668 || q.Low != 1650.1 || q.Bid1 != 1655.1 || q.Ask1 != 1655.3 {
		t.Errorf("quote = %+v", q)
	}
	if !q.AsOf.Equal(asOf) {
		t.Errorf("AsOf = %v", q.AsOf)
	}
}

func TestParseTencentQuotesSkipsShortLines(t *testing.T) {
	quotes := parseTencentQuotes(`v_sh600519="1~x~600519";`, time.Now())
	if len(quotes) != 0 {
		t.Errorf("quotes = %v, want empty", quotes)
	}
}

func TestParseTencentMinute(t *testing.T) {
	text := "min_data=\"\\\n" +
		"date:240614\\n\\\n" +
		"0930 1650.00 1200\\n\\\n" +
		"0931 1651.50 1900\\n\\\n" +
		"\";"
	points := parseTencentMinute(text)
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2: %+v", len(points), points)
	}
	if points[0].Time != "0930" || points[0].Price != 1650 || points[0].Volume != 1200 {
		t.Errorf("first point = %+v", points[0])
	}
	// Cumulative volume becomes per-minute delta.
	if points[1].Volume != 700 {
		t.Errorf("second point volume = %d, want 700", points[1].Volume)
	}
}

func TestParseTencentIndex(t *testing.T) {
	fields := make([]string, 40)
	for i := range fields {
		fields[i] = "0"
	}
	fields[1] = "恒生指数"
	fields[3] = "18500.25"
	fields[30] = "2024/06/14 16:08:00"
	fields[31] = "-120.50"
	fields[32] = "-0.65"
	text := `v_r_hkHSI="` + strings.Join(fields, "~") + `";`

	iq := parseTencentIndex(text, "^HSI")
	if iq == nil {
		t.Fatal("parseTencentIndex returned nil")
	}
	if iq.Symbol != "^HSI" || iq.Price != 18500.25 || iq.Change != -120.5 || iq.ChangePct != -0.65 {
		t.Errorf("index = %+v", iq)
	}
}

// --- Eastmoney ---

func TestSecid(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"600519", "1.600519"},
		{"sh600519", "1.600519"},
		{"000001", "0.000001"},
		{"430047", "0.430047"},
		{"hk00700", "116.00700"},
		{"700", "116.00700"},
	}
	for _, c := range cases {
		if got := secid(c.in); got != c.want {
			t.Errorf("secid(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseEastmoneyKlines(t *testing.T) {
	body := []byte(`{"data":{"code":"600519","klines":[
		"2024-06-13,1650.00,1660.50,1670.00,1645.00,25000,41250000.00",
		"2024-06-14,1661.00,1655.20,1668.00,1650.10,31000,51400000.00"
	]}}`)

	bars, err := parseEastmoneyKlines(body, "600519")
	if err != nil {
		t.Fatalf("parseEastmoneyKlines: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[1].Date != "2024-06-14" || bars[1].Close != 1655.2 || bars[1].Volume != 31000 {
		t.Errorf("second bar = %+v", bars[1])
	}
}

func TestParseEastmoneyKlinesNullData(t *testing.T) {
	if _, err := parseEastmoneyKlines([]byte(`{"data":null}`), "600519"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestParseEastmoneyTrends(t *testing.T) {
	body := []byte(`{"data":{"preClose":1648.00,"trends":[
		"2024-06-14 09:30,1650.00,1650.00,1650.50,1649.00,1200,1980000.00,1650.00",
		"2024-06-14 09:31,1650.00,1651.50,1651.80,1650.00,700,1156050.00,1650.70"
	]}}`)

	points, err := parseEastmoneyTrends(body)
	if err != nil {
		t.Fatalf("parseEastmoneyTrends: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[1].Price != 1651.5 || points[1].Volume != 700 || points[1].Avg != 1650.7 {
		t.Errorf("second point = %+v", points[1])
	}
}

// --- Sina ---

func TestParseSinaQuotes(t *testing.T) {
	text := `var hq_str_sh600519="贵州茅台,1650.00,1648.00,1655.20,1668.00,1650.10,1655.10,1655.30,31000,51234500,100,1655.10,200,1655.00,0,0,0,0,0,0,0,0,1655.30,0,0,0,0,0,0,0,0,2024-06-14,10:00:00,00";`

	quotes := parseSinaQuotes(text, time.Now())
	q, ok := quotes["600519"]
	if !ok {
		t.Fatalf("quotes = %v, missing 600519", quotes)
	}
	if q.Open != 1650 || q.PrevClose != 1648 || q.Now != 1655.2 {
		t.Errorf("quote = %+v", q)
	}
	if q.High != 1668 || q.Low != 1650.1 || q.Volume != 31000 {
		t.Errorf("quote = %+v", q)
	}
}

func TestParseSinaQuotesIndexLayout(t *testing.T) {
	// Index lines lead with the current value, not the open.
	text := `var hq_str_sh000001="上证指数,3020.50,3005.10,3010.00,3025.00,3000.00,0,0,250000000,310000000000,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2024-06-14,15:01:00,00";`

	quotes := parseSinaQuotes(text, time.Now())
	q, ok := quotes["000001"]
	if !ok {
		t.Fatalf("quotes = %v, missing 000001", quotes)
	}
	if q.Now != 3020.5 || q.PrevClose != 3005.1 || q.Open != 3010 {
		t.Errorf("index quote = %+v", q)
	}
}

func TestParseSinaGlobalIndexUS(t *testing.T) {
	text := `var hq_str_gb_dji="道琼斯,38589.16,-0.15,2024-06-14 16:20:00,-57.94,38647.10,38647.10,38400.00,0,0";`
	iq := parseSinaGlobalIndex(text, "gb_dji", "^DJI")
	if iq == nil {
		t.Fatal("parseSinaGlobalIndex returned nil")
	}
	if iq.Price != 38589.16 || iq.ChangePct != -0.15 || iq.Change != -57.94 {
		t.Errorf("index = %+v", iq)
	}
}

func TestParseSinaGlobalIndexHK(t *testing.T) {
	text := `var hq_str_rt_hkHSI="HSI,恒生指数,18620.00,18620.75,18700.00,18500.00,18500.25,-120.50,-0.65,0,0";`
	iq := parseSinaGlobalIndex(text, "rt_hkHSI", "^HSI")
	if iq == nil {
		t.Fatal("parseSinaGlobalIndex returned nil")
	}
	if iq.Name != "恒生指数" || iq.Price != 18500.25 || iq.ChangePct != -0.65 {
		t.Errorf("index = %+v", iq)
	}
}

func TestSinaBarsUnsupported(t *testing.T) {
	s := NewSina(DefaultOptions())
	if _, err := s.FetchBars(context.Background(), "600519", 100, ""); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

// --- shared client ---

func TestAvailableFlag(t *testing.T) {
	c := newClient(DefaultOptions())
	if !c.Available() {
		t.Fatal("fresh client should be available")
	}

	c.reportParse(errors.New("unexpected end of JSON input"))
	if c.Available() {
		t.Error("parse failure should mark the adapter unavailable")
	}

	c.reportParse(nil)
	if !c.Available() {
		t.Error("clean parse should clear the flag")
	}

	// A missing symbol is a data condition, not a broken wire format.
	c.reportParse(fmt.Errorf("bars 999999: %w", ErrNotFound))
	if !c.Available() {
		t.Error("ErrNotFound should not mark the adapter unavailable")
	}
}
