package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/steamwatch/internal/models"
)

const testToken = "123:abc"

// fakeBotAPI emulates the getMe and sendMessage Bot API methods.
type fakeBotAPI struct {
	mu       sync.Mutex
	messages []string
	failures int
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/bot" + testToken + "/getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"watch","username":"watch_bot"}}`))
	case "/bot" + testToken + "/sendMessage":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
			return
		}
		f.messages = append(f.messages, r.PostForm.Get("text"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(server.Close)

	c, err := NewClientWithEndpoint(testToken, "42", server.URL+"/bot%s/%s", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("NewClientWithEndpoint() error = %v", err)
	}
	return c
}

func healthy() models.CycleReport {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return models.CycleReport{
		ID: "c1", StartedAt: start, FinishedAt: start.Add(90 * time.Second),
		Watched: 3, Fetched: 3, Discounts: 1, WithPlayers: 2, TotalPlayers: 1234567,
	}
}

func failing() models.CycleReport {
	r := healthy()
	r.Fetched = 0
	r.Failed = []int{570, 730, 440}
	return r
}

func TestReportCycle_AlertsOnceAndRecovers(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestClient(t, api)
	ctx := context.Background()

	c.ReportCycle(ctx, healthy())
	c.ReportCycle(ctx, failing())
	c.ReportCycle(ctx, failing())
	c.ReportCycle(ctx, failing())
	c.ReportCycle(ctx, healthy())
	c.ReportCycle(ctx, healthy())

	msgs := api.sent()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "cycle failed") || !strings.Contains(msgs[0], "570, 730, 440") {
		t.Errorf("error message = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "recovered") || !strings.Contains(msgs[1], "After 3 failed cycles") {
		t.Errorf("recovery message = %q", msgs[1])
	}
	if !strings.Contains(msgs[1], "1,234,567") {
		t.Errorf("recovery message missing player total: %q", msgs[1])
	}
}

func TestReportCycle_PersistErrorIsUnhealthy(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestClient(t, api)

	r := healthy()
	r.PersistErrors = []string{"write discounts view to /data/discounts.json: permission denied"}
	c.ReportCycle(context.Background(), r)

	msgs := api.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], `/data/discounts\.json`) {
		t.Errorf("message does not name the destination: %q", msgs[0])
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	api := &fakeBotAPI{failures: 1}
	c := newTestClient(t, api)

	if err := c.SendError(context.Background(), failing()); err != nil {
		t.Fatalf("SendError() error = %v", err)
	}
	if got := len(api.sent()); got != 1 {
		t.Errorf("delivered %d messages, want 1", got)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	api := &fakeBotAPI{failures: 5}
	c := newTestClient(t, api)

	if err := c.SendError(context.Background(), failing()); err == nil {
		t.Fatal("SendError() error = nil, want error")
	}
}

func TestSendSales(t *testing.T) {
	api := &fakeBotAPI{}
	c := newTestClient(t, api)

	changes := []models.SaleChange{
		{AppID: 730, Name: "Counter-Strike 2", Kind: models.SaleStarted, NewDiscount: 50,
			InitialPrice: 19.99, FinalPrice: 9.99, Currency: "USD", DetectedAt: time.Unix(0, 0)},
		{AppID: 440, Name: "Team Fortress 2", Kind: models.SaleDeepened, OldDiscount: 20, NewDiscount: 40,
			InitialPrice: 10, FinalPrice: 6, Currency: "EUR", DetectedAt: time.Unix(0, 0)},
	}
	if err := c.SendSales(context.Background(), changes); err != nil {
		t.Fatalf("SendSales() error = %v", err)
	}

	msgs := api.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	for _, want := range []string{
		"[Counter\\-Strike 2](https://store.steampowered.com/app/730/)",
		"9\\.99 USD",
		"was 20%",
		"2\\. [Team Fortress 2]",
	} {
		if !strings.Contains(msgs[0], want) {
			t.Errorf("message missing %q:\n%s", want, msgs[0])
		}
	}

	if err := c.SendSales(context.Background(), nil); err != nil {
		t.Errorf("SendSales(nil) error = %v", err)
	}
	if len(api.sent()) != 1 {
		t.Error("SendSales(nil) sent a message")
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := NewClientWithEndpoint(testToken, "not-a-number", "http://127.0.0.1:0/bot%s/%s", 1, 0); err == nil {
		t.Error("NewClientWithEndpoint() error = nil, want error")
	}
}

func TestFormatRecovery(t *testing.T) {
	tests := []struct {
		failures int
		expected string
	}{
		{1, "After 1 failed cycle\n"},
		{2, "After 2 failed cycles\n"},
	}

	for _, tt := range tests {
		msg := formatRecovery(tt.failures, healthy())
		if !strings.Contains(msg, tt.expected) {
			t.Errorf("formatRecovery(%d) = %q, expected to contain %q", tt.failures, msg, tt.expected)
		}
		if !strings.Contains(msg, "Cycle time: 1m") {
			t.Errorf("formatRecovery(%d) missing cycle time: %q", tt.failures, msg)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"3/3 apps", "3/3 apps"},
		{"v1.2 (beta)!", `v1\.2 \(beta\)\!`},
		{"a_b*c", `a\_b\*c`},
		{"1-2", `1\-2`},
	}

	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.input); got != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{30 * time.Minute, "30m"},
		{1 * time.Minute, "1m"},
		{45 * time.Second, "45s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}
