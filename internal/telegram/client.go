// Package telegram posts run summaries via the Telegram Bot API.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/hedgegain/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
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

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError reports a run that failed before producing results.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Run failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRun posts the summary of a finished run.
func (c *Client) SendRun(run *models.Run) error {
	return c.sendMarkdownV2(formatRun(run))
}

// formatRun formats run counts and regression coefficients into a Telegram
// MarkdownV2 message.
func formatRun(run *models.Run) string {
	var b strings.Builder
	b.WriteString("📊 *Delta\\-hedged gains*\n\n")

	dateStr := escapeMarkdownV2(run.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "📅 Finished: %s\n", dateStr)
	fmt.Fprintf(&b, "🆔 `%s`\n\n", escapeMarkdownV2(run.ID))

	fmt.Fprintf(&b, "Options: %d rows, %d after cleaning, %d removed\n",
		run.OptionRows, run.CleanedRows, run.RemovedOptions)
	fmt.Fprintf(&b, "Hedged gains: %d \\(%d degenerate\\)\n", len(run.HedgedGains), run.DegenerateCount)
	fmt.Fprintf(&b, "Joined rows: %d, rows without volatility data: %d\n", len(run.Joined), run.UnavailableRows)

	for _, reg := range []*models.Regression{run.WithIntercept, run.WithoutIntercept} {
		if reg == nil {
			continue
		}
		label := "without constant"
		if reg.Intercept {
			label = "with constant"
		}
		r2 := escapeMarkdownV2(fmt.Sprintf("%.4f", reg.RSquared))
		fmt.Fprintf(&b, "\n*OLS %s* \\(n\\=%d, R² %s\\)\n", label, reg.N, r2)
		for _, coef := range reg.Coefficients {
			est := escapeMarkdownV2(fmt.Sprintf("%.4g", coef.Estimate))
			p := escapeMarkdownV2(fmt.Sprintf("%.3f", coef.PValue))
			fmt.Fprintf(&b, "   %s: %s \\(p %s\\)\n", escapeMarkdownV2(coef.Term), est, p)
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
