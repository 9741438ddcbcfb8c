package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/trendscout/internal/models"
)

type fakeBot struct {
	failures int
	sent     []tgbotapi.MessageConfig
	attempts int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func completedRun() *models.MissionRun {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	return &models.MissionRun{
		ID:          "run-1",
		MissionID:   "mission-1",
		RunNumber:   3,
		Status:      models.RunCompleted,
		TriggeredBy: models.TriggerScheduled,
		StartedAt:   &start,
		CompletedAt: &end,
		Stats: models.RunStats{
			StartedAt:       start,
			CompletedAt:     &end,
			KeywordsScanned: 20,
			KeywordsMatched: 4,
			ResultsStored:   4,
			APICallsMade:    9,
			Errors:          []string{"GOOGLE_TRENDS/GB: timeout"},
		},
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
		{90 * time.Second, "1m"},
		{12 * time.Second, "12s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"gpt-5.1", "gpt\\-5\\.1"},
		{"(a) [b] {c}", "\\(a\\) \\[b\\] \\{c\\}"},
		{"50% off!", "50% off\\!"},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{40, "+40.0%"},
		{-12.5, "-12.5%"},
		{0, "+0.0%"},
		{models.InfiniteGrowthScore, "new"},
	}
	for _, tt := range tests {
		if got := formatScore(tt.score); got != tt.want {
			t.Errorf("formatScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestFormatRunMessage(t *testing.T) {
	mission := &models.Mission{ID: "mission-1", Name: "AI watch"}
	results := []models.RunResult{
		{Keyword: "gpt-5", Region: "US", TrendScore: 40, CurrentInterest: 70, RankPosition: 1},
		{Keyword: "claude", Region: "GB", TrendScore: models.InfiniteGrowthScore, CurrentInterest: 12, RankPosition: 2},
		{Keyword: "gemini", Region: "US", TrendScore: 5, CurrentInterest: 30, RankPosition: 3},
	}

	msg := formatRunMessage(mission, completedRun(), results, 2)

	for _, want := range []string{
		"✅ *Mission run completed*",
		"AI watch \\(run \\#3, scheduled\\)",
		"Duration: 1m",
		"Scanned 20, matched 4, stored 4, API calls 9",
		"Errors: 1",
		"1\\. gpt\\-5 *\\+40\\.0%* \\(interest 70, US\\)",
		"2\\. claude *new*",
		"and 1 more",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "gemini") {
		t.Errorf("message lists more than topN results:\n%s", msg)
	}
}

func TestFormatFailedRunMessage(t *testing.T) {
	run := &models.MissionRun{
		MissionID:    "mission-1",
		RunNumber:    1,
		Status:       models.RunFailed,
		TriggeredBy:  models.TriggerManual,
		ErrorMessage: "run cancelled: context canceled",
	}

	msg := formatRunMessage(nil, run, nil, 10)

	if !strings.Contains(msg, "❌ *Mission run failed*") {
		t.Errorf("missing failure header:\n%s", msg)
	}
	if !strings.Contains(msg, "mission\\-1") {
		t.Errorf("missing mission id fallback:\n%s", msg)
	}
	if !strings.Contains(msg, "run cancelled: context canceled") {
		t.Errorf("missing error message:\n%s", msg)
	}
	if strings.Contains(msg, "Duration") {
		t.Errorf("incomplete run should not show a duration:\n%s", msg)
	}
}

func TestNotifyRunRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := newClient(bot, 42, 3, time.Millisecond, 5)

	err := c.NotifyRun(context.Background(), &models.Mission{Name: "m"}, completedRun(), nil)
	if err != nil {
		t.Fatalf("NotifyRun() error = %v", err)
	}
	if bot.attempts != 3 {
		t.Errorf("attempts = %d, want 3", bot.attempts)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("unexpected message config: %+v", bot.sent[0])
	}
}

func TestNotifyRunGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, 3, time.Millisecond, 5)

	err := c.NotifyRun(context.Background(), nil, completedRun(), nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if bot.attempts != 3 {
		t.Errorf("attempts = %d, want 3", bot.attempts)
	}
}

func TestSendCancelledDuringRetry(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, 3, time.Hour, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.SendError(ctx, errors.New("cycle failed"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if bot.attempts != 1 {
		t.Errorf("attempts = %d, want 1", bot.attempts)
	}
}

func TestSendRecovery(t *testing.T) {
	tests := []struct {
		failed int
		want   string
	}{
		{1, "after 1 failed cycle"},
		{4, "after 4 failed cycles"},
	}

	for _, tt := range tests {
		bot := &fakeBot{}
		c := newClient(bot, 42, 3, time.Millisecond, 5)
		if err := c.SendRecovery(context.Background(), tt.failed); err != nil {
			t.Fatalf("SendRecovery(%d) error = %v", tt.failed, err)
		}
		if len(bot.sent) != 1 || !strings.Contains(bot.sent[0].Text, tt.want) {
			t.Errorf("SendRecovery(%d) sent %+v, want text containing %q", tt.failed, bot.sent, tt.want)
		}
	}
}
