// Package telegram sends mission run summaries through the Telegram Bot API.
//
// Messages use MarkdownV2. Delivery is retried with a linearly growing delay.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/trendscout/internal/models"
)

// sender is the part of *tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	topN           int
}

// NewClient creates a new Telegram client. topN is how many ranked keywords
// a run summary lists.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, topN int) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase, topN), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration, topN int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if topN <= 0 {
		topN = 10
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		topN:           topN,
	}
}

// NotifyRun sends a summary of a finished run.
func (c *Client) NotifyRun(ctx context.Context, mission *models.Mission, run *models.MissionRun, results []models.RunResult) error {
	return c.send(ctx, formatRunMessage(mission, run, results, c.topN))
}

// SendError reports a scheduler failure that is not tied to a single run.
func (c *Client) SendError(ctx context.Context, err error) error {
	message := "⚠️ *Scheduled cycle failed*\n\n" + escapeMarkdownV2(err.Error())
	return c.send(ctx, message)
}

// SendRecovery reports that scheduled cycles succeed again.
func (c *Client) SendRecovery(ctx context.Context, failedCycles int) error {
	message := fmt.Sprintf("✅ *Scheduler recovered* after %d failed %s", failedCycles, pluralize(failedCycles, "cycle"))
	return c.send(ctx, message)
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func (c *Client) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

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

		timer := time.NewTimer(c.retryDelayBase * time.Duration(i+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("telegram send cancelled: %w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatRunMessage renders a run summary with its top results.
func formatRunMessage(mission *models.Mission, run *models.MissionRun, results []models.RunResult, topN int) string {
	var b strings.Builder

	if run.Status == models.RunCompleted {
		b.WriteString("✅ *Mission run completed*\n\n")
	} else {
		b.WriteString("❌ *Mission run failed*\n\n")
	}

	name := run.MissionID
	if mission != nil {
		name = mission.Name
	}
	fmt.Fprintf(&b, "🎯 %s \\(run \\#%d, %s\\)\n", escapeMarkdownV2(name), run.RunNumber, escapeMarkdownV2(run.TriggeredBy))

	if d := run.Stats.DurationMS(); d > 0 {
		fmt.Fprintf(&b, "⏱ Duration: %s\n", escapeMarkdownV2(formatDuration(time.Duration(d)*time.Millisecond)))
	}
	s := run.Stats
	fmt.Fprintf(&b, "📊 Scanned %d, matched %d, stored %d, API calls %d\n",
		s.KeywordsScanned, s.KeywordsMatched, s.ResultsStored, s.APICallsMade)
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, "⚠️ Errors: %d\n", len(s.Errors))
	}
	if run.Status == models.RunFailed && run.ErrorMessage != "" {
		fmt.Fprintf(&b, "❗ %s\n", escapeMarkdownV2(run.ErrorMessage))
	}

	if len(results) == 0 {
		return b.String()
	}

	b.WriteString("\n")
	for i, r := range results {
		if i >= topN {
			fmt.Fprintf(&b, "\\.\\.\\. and %d more\n", len(results)-topN)
			break
		}
		keyword := r.Keyword
		if keyword == "" {
			keyword = r.KeywordID
		}
		fmt.Fprintf(&b, "%d\\. %s *%s* \\(interest %d, %s\\)\n",
			r.RankPosition,
			escapeMarkdownV2(keyword),
			escapeMarkdownV2(formatScore(r.TrendScore)),
			r.CurrentInterest,
			escapeMarkdownV2(r.Region),
		)
	}
	return b.String()
}

// formatScore renders a trend score as a signed percentage. The infinite
// growth sentinel is shown as "new".
func formatScore(score float64) string {
	if score >= models.InfiniteGrowthScore {
		return "new"
	}
	return fmt.Sprintf("%+.1f%%", score)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	if mins := int(d.Minutes()); mins > 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
