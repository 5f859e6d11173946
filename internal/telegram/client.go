// Package telegram sends cycle health alerts via the Telegram Bot API.
//
// The first unhealthy cycle after a healthy run triggers an error alert;
// the first healthy cycle after that triggers a recovery notice. Cycles in
// between stay quiet so a long outage produces two messages, not hundreds.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	return NewClientWithEndpoint(botToken, chatID, tgbotapi.APIEndpoint, maxRetries, retryDelayBase)
}

// NewClientWithEndpoint creates a client against a custom Bot API endpoint,
// formatted like tgbotapi.APIEndpoint.
func NewClientWithEndpoint(botToken, chatID, endpoint string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ReportCycle tracks cycle health and sends an alert on the first failing
// cycle and a recovery notice on the first healthy one after it. Send
// failures are logged, never returned.
func (c *Client) ReportCycle(ctx context.Context, report models.CycleReport) {
	c.mu.Lock()
	var send func() error
	if !report.Healthy() {
		c.consecutiveFailures++
		if c.consecutiveFailures == 1 {
			send = func() error { return c.SendError(ctx, report) }
		}
	} else {
		if failures := c.consecutiveFailures; failures > 0 {
			send = func() error { return c.SendRecovery(ctx, failures, report) }
		}
		c.consecutiveFailures = 0
	}
	c.mu.Unlock()

	if send == nil {
		return
	}
	if err := send(); err != nil {
		logger.Warn("Failed to send Telegram notification: %v", err)
	}
}

// SendError sends an alert describing an unhealthy cycle.
func (c *Client) SendError(ctx context.Context, report models.CycleReport) error {
	return c.send(ctx, formatError(report))
}

// SendRecovery announces that cycles are healthy again after failures.
func (c *Client) SendRecovery(ctx context.Context, failures int, report models.CycleReport) error {
	return c.send(ctx, formatRecovery(failures, report))
}

// SendSales sends a batch of sale alerts in one message.
func (c *Client) SendSales(ctx context.Context, changes []models.SaleChange) error {
	if len(changes) == 0 {
		return nil
	}
	return c.send(ctx, formatSales(changes))
}

func (c *Client) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	// Send with retry
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled after %d attempts: %w", i+1, lastErr)
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatError formats an unhealthy cycle into a MarkdownV2 message.
func formatError(r models.CycleReport) string {
	var b strings.Builder
	b.WriteString("🚨 *Steam watch cycle failed*\n\n")
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(r.FinishedAt.UTC().Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "🎮 Fetched: %s\n", escapeMarkdownV2(fmt.Sprintf("%d/%d apps", r.Fetched, r.Watched)))
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "❌ Failed apps: %s\n", escapeMarkdownV2(joinIDs(r.Failed)))
	}
	for _, e := range r.PersistErrors {
		fmt.Fprintf(&b, "💾 %s\n", escapeMarkdownV2(e))
	}
	return b.String()
}

// formatRecovery formats the first healthy cycle after failures.
func formatRecovery(failures int, r models.CycleReport) string {
	var b strings.Builder
	b.WriteString("✅ *Steam watch recovered*\n\n")
	fmt.Fprintf(&b, "After %s\n", escapeMarkdownV2(english.Plural(failures, "failed cycle", "failed cycles")))
	fmt.Fprintf(&b, "🎮 Fetched: %s\n", escapeMarkdownV2(fmt.Sprintf("%d/%d apps", r.Fetched, r.Watched)))
	fmt.Fprintf(&b, "🏷 On sale: %d\n", r.Discounts)
	fmt.Fprintf(&b, "👥 Players online: %s\n", escapeMarkdownV2(humanize.Comma(r.TotalPlayers)))
	fmt.Fprintf(&b, "⏱ Cycle time: %s\n", escapeMarkdownV2(formatDuration(r.Duration())))
	return b.String()
}

// formatSales formats sale alerts into a MarkdownV2 message.
func formatSales(changes []models.SaleChange) string {
	var b strings.Builder
	b.WriteString("🏷 *New Steam discounts*\n\n")
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(changes[0].DetectedAt.UTC().Format("2006-01-02 15:04:05")))

	for i, c := range changes {
		name := escapeMarkdownV2(c.Name)
		link := fmt.Sprintf("https://store.steampowered.com/app/%d/", c.AppID)
		fmt.Fprintf(&b, "%d\\. [%s](%s)\n", i+1, name, link)

		price := escapeMarkdownV2(fmt.Sprintf("%.2f %s", c.FinalPrice, c.Currency))
		was := escapeMarkdownV2(fmt.Sprintf("%.2f", c.InitialPrice))
		if c.Kind == models.SaleDeepened {
			fmt.Fprintf(&b, "   📉 *%d%%* off \\(was %d%%\\), now %s\n", c.NewDiscount, c.OldDiscount, price)
		} else {
			fmt.Fprintf(&b, "   🔥 *%d%%* off, now %s \\(was %s\\)\n", c.NewDiscount, price, was)
		}
	}
	return b.String()
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
