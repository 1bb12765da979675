package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

const (
	KindFilled  = "filled"
	KindBlocked = "blocked"
	KindStopped = "stopped"

	timeLayout = "2006-01-02 15:04:05"
)

// safePadding 安全地计算填充空格数量，避免负数
func safePadding(content string, totalWidth int) int {
	padding := totalWidth - utf8.RuneCountInString(content) - 4
	if padding < 0 {
		padding = 0
	}
	return padding
}

func headline(a *types.TradeAlert) string {
	switch a.Kind {
	case KindFilled:
		side := "BUY"
		if a.Units < 0 {
			side = "SELL"
		}
		return fmt.Sprintf("%s %s %d @ %.5f", side, a.Pair, abs(a.Units), a.Price)
	case KindBlocked:
		return fmt.Sprintf("%s blocked", a.Pair)
	case KindStopped:
		return "auto trading stopped"
	}
	return a.Pair
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Interface 通知接口
type Interface interface {
	SendAlert(alert *types.TradeAlert) error
	SendBatchAlerts(alerts []*types.TradeAlert) error
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct {
	out io.Writer
}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stdout}
}

func (cn *ConsoleNotifier) SendAlert(alert *types.TradeAlert) error {
	cn.printAlert(alert)
	return nil
}

func (cn *ConsoleNotifier) SendBatchAlerts(alerts []*types.TradeAlert) error {
	switch len(alerts) {
	case 0:
		return nil
	case 1:
		return cn.SendAlert(alerts[0])
	}
	cn.printBatchAlerts(alerts)
	return nil
}

func (cn *ConsoleNotifier) line(content string, width int) {
	fmt.Fprintf(cn.out, "║ %s%s ║\n", content, strings.Repeat(" ", safePadding(content, width)))
}

func (cn *ConsoleNotifier) printAlert(a *types.TradeAlert) {
	const width = 60
	fmt.Fprintln(cn.out)
	fmt.Fprintln(cn.out, "╔"+strings.Repeat("═", width)+"╗")
	cn.line(headline(a), width)
	fmt.Fprintln(cn.out, "║"+strings.Repeat(" ", width)+"║")
	if a.Kind == KindFilled {
		cn.line(fmt.Sprintf("SL %.1f pips  TP %.1f pips", a.StopLossPips, a.TakeProfitPips), width)
		cn.line(fmt.Sprintf("Score %.1f  %s", a.Score, a.Recommendation), width)
	}
	if a.Note != "" {
		cn.line(a.Note, width)
	}
	cn.line(a.Time.Format(timeLayout), width)
	fmt.Fprintln(cn.out, "╚"+strings.Repeat("═", width)+"╝")
}

func (cn *ConsoleNotifier) printBatchAlerts(alerts []*types.TradeAlert) {
	const width = 80
	fmt.Fprintln(cn.out)
	fmt.Fprintln(cn.out, "╔"+strings.Repeat("═", width)+"╗")
	cn.line(fmt.Sprintf("%d alerts", len(alerts)), width)
	fmt.Fprintln(cn.out, "║"+strings.Repeat(" ", width)+"║")
	for i, a := range alerts {
		content := fmt.Sprintf("%d. %s", i+1, headline(a))
		if a.Note != "" {
			content += " - " + a.Note
		}
		cn.line(content, width)
	}
	cn.line(alerts[0].Time.Format(timeLayout), width)
	fmt.Fprintln(cn.out, "╚"+strings.Repeat("═", width)+"╝")
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	httpClient *http.Client
	fallback   *ConsoleNotifier
	now        func() time.Time
}

// DingTalkMessage 钉钉消息结构
type DingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Markdown *DingTalkMarkdown `json:"markdown,omitempty"`
	At       *DingTalkAt       `json:"at,omitempty"`
}

type DingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type DingTalkAt struct {
	AtAll bool `json:"isAtAll"`
}

// DingTalkResponse 钉钉API响应
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// New picks DingTalk when a webhook is configured, the console otherwise.
func New(cfg types.DingTalkConfig) Interface {
	if cfg.WebhookURL == "" {
		zap.L().Info("未配置钉钉Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}
	if cfg.Secret == "" {
		zap.L().Warn("钉钉通知已配置，但未设置secret")
	}
	return NewDingTalkNotifier(cfg.WebhookURL, cfg.Secret)
}

func NewDingTalkNotifier(webhookURL, secret string) *DingTalkNotifier {
	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		fallback:   NewConsoleNotifier(),
		now:        time.Now,
	}
}

func (dtn *DingTalkNotifier) SendAlert(alert *types.TradeAlert) error {
	if err := dtn.sendDingTalkMessage(headline(alert), dtn.buildMarkdownContent(alert)); err != nil {
		zap.L().Warn("钉钉发送失败，降级为控制台输出", zap.String("pair", alert.Pair), zap.Error(err))
		return dtn.fallback.SendAlert(alert)
	}
	return nil
}

func (dtn *DingTalkNotifier) SendBatchAlerts(alerts []*types.TradeAlert) error {
	switch len(alerts) {
	case 0:
		return nil
	case 1:
		return dtn.SendAlert(alerts[0])
	}
	title := fmt.Sprintf("FX Sentry - %d alerts", len(alerts))
	if err := dtn.sendDingTalkMessage(title, dtn.buildBatchMarkdownContent(alerts)); err != nil {
		zap.L().Warn("钉钉批量发送失败，降级为控制台输出", zap.Int("count", len(alerts)), zap.Error(err))
		return dtn.fallback.SendBatchAlerts(alerts)
	}
	return nil
}

// generateSignature 生成钉钉加签: base64(HMAC-SHA256(timestamp + "\n" + secret))
func (dtn *DingTalkNotifier) generateSignature(timestamp int64) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dtn.secret)
	h := hmac.New(sha256.New, []byte(dtn.secret))
	h.Write([]byte(stringToSign))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

// buildSignedURL 构建带签名的URL
func (dtn *DingTalkNotifier) buildSignedURL() string {
	if dtn.secret == "" {
		return dtn.webhookURL
	}
	timestamp := dtn.now().UnixMilli()
	separator := "&"
	if !strings.Contains(dtn.webhookURL, "?") {
		separator = "?"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s",
		dtn.webhookURL, separator, timestamp, dtn.generateSignature(timestamp))
}

func (dtn *DingTalkNotifier) buildMarkdownContent(a *types.TradeAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", headline(a))
	if a.Kind == KindFilled {
		color := "green"
		if a.Units < 0 {
			color = "red"
		}
		fmt.Fprintf(&b, "**Units**: <font color=\"%s\">%d</font>  \n", color, a.Units)
		fmt.Fprintf(&b, "**Stop / Target**: %.1f / %.1f pips  \n", a.StopLossPips, a.TakeProfitPips)
		fmt.Fprintf(&b, "**Setup**: %.1f (%s)  \n", a.Score, a.Recommendation)
	}
	if a.Note != "" {
		fmt.Fprintf(&b, "**Note**: %s  \n", a.Note)
	}
	fmt.Fprintf(&b, "**Time**: %s  \n", a.Time.Format(timeLayout))
	return b.String()
}

func (dtn *DingTalkNotifier) buildBatchMarkdownContent(alerts []*types.TradeAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## FX Sentry - %d alerts\n\n", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "- **%s**", headline(a))
		if a.Note != "" {
			fmt.Fprintf(&b, ": %s", a.Note)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n> %s", alerts[0].Time.Format(timeLayout))
	return b.String()
}

// sendDingTalkMessage 发送钉钉消息
func (dtn *DingTalkNotifier) sendDingTalkMessage(title, content string) error {
	message := &DingTalkMessage{
		MsgType:  "markdown",
		Markdown: &DingTalkMarkdown{Title: title, Text: content},
		At:       &DingTalkAt{AtAll: false},
	}
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	resp, err := dtn.httpClient.Post(dtn.buildSignedURL(), "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	var dingResp DingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&dingResp); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if dingResp.ErrCode != 0 {
		return fmt.Errorf("钉钉API错误 [%d]: %s", dingResp.ErrCode, dingResp.ErrMsg)
	}
	return nil
}
