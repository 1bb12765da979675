package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 2, 16, 5, 0, 0, time.UTC)

func fillAlert() *types.TradeAlert {
	return &types.TradeAlert{
		Kind:           KindFilled,
		Pair:           "EUR/USD",
		Units:          -250000,
		Price:          1.10012,
		StopLossPips:   7,
		TakeProfitPips: 14,
		Score:          78.5,
		Recommendation: types.RecommendStrongSell,
		Time:           at,
	}
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "SELL EUR/USD 250000 @ 1.10012", headline(fillAlert()))
	assert.Equal(t, "GBP/USD blocked", headline(&types.TradeAlert{Kind: KindBlocked, Pair: "GBP/USD"}))
	assert.Equal(t, "auto trading stopped", headline(&types.TradeAlert{Kind: KindStopped}))
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	cn := &ConsoleNotifier{out: &buf}

	require.NoError(t, cn.SendAlert(fillAlert()))
	assert.Contains(t, buf.String(), "SELL EUR/USD 250000")
	assert.Contains(t, buf.String(), "SL 7.0 pips  TP 14.0 pips")
	assert.Contains(t, buf.String(), "2026-03-02 16:05:00")

	buf.Reset()
	require.NoError(t, cn.SendBatchAlerts([]*types.TradeAlert{
		fillAlert(),
		{Kind: KindBlocked, Pair: "GBP/USD", Note: "3 consecutive losses", Time: at},
	}))
	assert.Contains(t, buf.String(), "2 alerts")
	assert.Contains(t, buf.String(), "2. GBP/USD blocked - 3 consecutive losses")

	buf.Reset()
	require.NoError(t, cn.SendBatchAlerts(nil))
	assert.Empty(t, buf.String())
}

func TestSafePadding(t *testing.T) {
	assert.Equal(t, 6, safePadding("预警时间", 14))
	assert.Equal(t, 0, safePadding("a very long line that overflows", 10))
}

func TestDingTalkSignsAndPosts(t *testing.T) {
	var (
		gotQuery   map[string]string
		gotMessage DingTalkMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"access_token": r.URL.Query().Get("access_token"),
			"timestamp":    r.URL.Query().Get("timestamp"),
			"sign":         r.URL.Query().Get("sign"),
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMessage))
		_, _ = io.WriteString(w, `{"errcode":0,"errmsg":"ok"}`)
	}))
	defer srv.Close()

	dtn := NewDingTalkNotifier(srv.URL+"/robot/send?access_token=abc", "SECret")
	dtn.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, dtn.SendAlert(fillAlert()))

	mac := hmac.New(sha256.New, []byte("SECret"))
	mac.Write([]byte("1700000000000\nSECret"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "abc", gotQuery["access_token"])
	assert.Equal(t, "1700000000000", gotQuery["timestamp"])
	assert.Equal(t, want, gotQuery["sign"])
	assert.Equal(t, "markdown", gotMessage.MsgType)
	assert.Contains(t, gotMessage.Markdown.Text, `<font color="red">-250000</font>`)
	assert.Contains(t, gotMessage.Markdown.Text, "78.5 (strong_sell)")
}

func TestDingTalkFallsBackToConsole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errcode":310000,"errmsg":"sign not match"}`)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	dtn := NewDingTalkNotifier(srv.URL, "")
	dtn.fallback = &ConsoleNotifier{out: &buf}

	require.NoError(t, dtn.SendAlert(fillAlert()))
	assert.Contains(t, buf.String(), "SELL EUR/USD")
}

func TestNewPicksChannel(t *testing.T) {
	_, ok := New(types.DingTalkConfig{}).(*ConsoleNotifier)
	assert.True(t, ok)
	_, ok = New(types.DingTalkConfig{WebhookURL: "https://oapi.dingtalk.com/robot/send?access_token=x"}).(*DingTalkNotifier)
	assert.True(t, ok)
}
