package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"card-tracker-go/market"
)

const tradesXML = `<CARDS><TRADES>
<TRADE><BUYER>a</BUYER><PRICE>1.50</PRICE><SELLER>b</SELLER><TIMESTAMP>1700000300</TIMESTAMP></TRADE>
<TRADE><BUYER>c</BUYER><PRICE></PRICE><SELLER>d</SELLER><TIMESTAMP>1700000200</TIMESTAMP></TRADE>
<TRADE><BUYER>e</BUYER><PRICE> 0.75 </PRICE><SELLER>f</SELLER><TIMESTAMP>1700000100</TIMESTAMP></TRADE>
</TRADES></CARDS>`

func TestCardTradesClientFetch(t *testing.T) {
	var gotQuery, gotAgent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		io.WriteString(w, tradesXML)
	}))
	defer ts.Close()

	cli := &CardTradesClient{
		BaseURL:    ts.URL,
		UserAgent:  "Testlandia card tracker",
		HTTPClient: ts.Client(),
		Limit:      500,
	}
	series, stats, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "42", Season: "3"})
	if err != nil {
		t.Fatalf("fetch err: %v", err)
	}
	if gotQuery != "q=card+trades;cardid=42;season=3;limit=500" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotAgent != "Testlandia card tracker" {
		t.Fatalf("user agent not sent: %q", gotAgent)
	}
	if len(series) != 2 || series[0].Price != 1.5 || series[1].Price != 0.75 {
		t.Fatalf("unexpected series %+v", series)
	}
	if !series[0].Ts.Equal(time.Unix(1700000300, 0)) {
		t.Fatalf("unexpected timestamp %v", series[0].Ts)
	}
	if stats.Total != 3 || stats.Gifts != 1 || stats.Malformed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCardTradesClientDefaultLimit(t *testing.T) {
	cli := &CardTradesClient{BaseURL: "http://x/api.cgi"}
	got := cli.tradesURL(market.CardRef{ID: "1", Season: "2"})
	if !strings.HasSuffix(got, "limit=1000") {
		t.Fatalf("default limit not applied: %s", got)
	}
}

func TestCardTradesClientStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	cli := &CardTradesClient{BaseURL: ts.URL, HTTPClient: ts.Client()}
	_, _, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "1", Season: "3"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCardTradesClientInvalidCard(t *testing.T) {
	cli := &CardTradesClient{HTTPClient: http.DefaultClient}
	if _, _, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "x", Season: "3"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCardTradesClientCancelled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	cli := &CardTradesClient{BaseURL: ts.URL, HTTPClient: ts.Client()}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := cli.FetchTrades(ctx, market.CardRef{ID: "1", Season: "3"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCardTradesClientNil(t *testing.T) {
	var cli *CardTradesClient
	if _, _, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "1", Season: "3"}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestCardTradesClientBodyCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<CARDS><TRADES>")
		trade := "<TRADE><PRICE>1.00</PRICE><TIMESTAMP>1700000000</TIMESTAMP></TRADE>\n"
		// 约 140KiB，超过 Limit=2 时的 66KiB 上限
		io.WriteString(w, strings.Repeat(trade, 2000))
		io.WriteString(w, "</TRADES></CARDS>")
	}))
	defer ts.Close()

	cli := &CardTradesClient{BaseURL: ts.URL, UserAgent: "ua", HTTPClient: ts.Client(), Limit: 2}
	_, _, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "1", Season: "3"})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}

	// 同样的响应在默认上限内可以解析
	cli.Limit = 0
	series, _, err := cli.FetchTrades(context.Background(), market.CardRef{ID: "1", Season: "3"})
	if err != nil {
		t.Fatalf("fetch within cap: %v", err)
	}
	if len(series) != 2000 {
		t.Fatalf("expected 2000 trades, got %d", len(series))
	}
}
