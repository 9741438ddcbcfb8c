package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/trendscout/internal/models"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []message
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message{subject: subject, data: data})
	return nil
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix string
		status models.RunStatus
		want   string
	}{
		{"trendscout", models.RunCompleted, "trendscout.run.completed"},
		{"trendscout", models.RunFailed, "trendscout.run.failed"},
		{"acme.trends.", models.RunCompleted, "acme.trends.run.completed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.prefix, tt.status))
	}
}

func TestNewRunEventCapsResults(t *testing.T) {
	run := &models.MissionRun{ID: "run-1", MissionID: "m-1", RunNumber: 2, Status: models.RunCompleted, TriggeredBy: models.TriggerAPI}
	results := []models.RunResult{
		{Keyword: "a", Region: "US", TrendScore: 30, RankPosition: 1},
		{Keyword: "b", Region: "US", TrendScore: 20, RankPosition: 2},
		{Keyword: "c", Region: "US", TrendScore: 10, RankPosition: 3},
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	ev := NewRunEvent(&models.Mission{Name: "watch"}, run, results, 2, now)
	assert.Equal(t, "watch", ev.MissionName)
	assert.Equal(t, now, ev.OccurredAt)
	require.Len(t, ev.TopResults, 2)
	assert.Equal(t, "a", ev.TopResults[0].Keyword)
	assert.Equal(t, 2, ev.TopResults[1].RankPosition)

	empty := NewRunEvent(nil, run, nil, 2, now)
	assert.NotNil(t, empty.TopResults)
	assert.Empty(t, empty.MissionName)
}

func TestNotifierPublishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "", 5)

	run := &models.MissionRun{
		ID:           "run-9",
		MissionID:    "m-1",
		Status:       models.RunFailed,
		ErrorMessage: "panic: boom",
		Stats:        models.RunStats{Errors: []string{"panic: boom"}},
	}
	require.NoError(t, n.NotifyRun(context.Background(), nil, run, nil))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "trendscout.run.failed", pub.messages[0].subject)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &decoded))
	assert.Equal(t, "run-9", decoded["run_id"])
	assert.Equal(t, "FAILED", decoded["status"])
	assert.Equal(t, "panic: boom", decoded["error_message"])
	assert.Equal(t, []any{}, decoded["top_results"])

	stats := decoded["stats"].(map[string]any)
	assert.Equal(t, []any{"panic: boom"}, stats["errors"])
}

func TestNotifierPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n := NewNotifier(pub, "trendscout", 5)

	err := n.NotifyRun(context.Background(), nil, &models.MissionRun{Status: models.RunCompleted}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trendscout.run.completed")
}
