// Package events publishes mission run outcomes to NATS so other services
// can react to finished runs.
//
// Events are JSON documents published on <prefix>.run.completed or
// <prefix>.run.failed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Options configures the NATS connection.
type Options struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// Connect opens a NATS connection that logs disconnects and reconnects.
func Connect(opts Options) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("trendscout"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(opts.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}

// ResultSummary is one ranked keyword carried in a RunEvent.
type ResultSummary struct {
	Keyword         string  `json:"keyword"`
	Region          string  `json:"region"`
	TimeWindow      string  `json:"time_window,omitempty"`
	TrendScore      float64 `json:"trend_score"`
	CurrentInterest int     `json:"current_interest"`
	RankPosition    int     `json:"rank_position"`
}

// RunEvent describes a run that reached a terminal state.
type RunEvent struct {
	RunID        string           `json:"run_id"`
	MissionID    string           `json:"mission_id"`
	MissionName  string           `json:"mission_name,omitempty"`
	RunNumber    int              `json:"run_number"`
	Status       models.RunStatus `json:"status"`
	TriggeredBy  string           `json:"triggered_by"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Stats        models.RunStats  `json:"stats"`
	TopResults   []ResultSummary  `json:"top_results"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Subject returns the subject a run with the given status is published on.
func Subject(prefix string, status models.RunStatus) string {
	prefix = strings.TrimSuffix(prefix, ".")
	return fmt.Sprintf("%s.run.%s", prefix, strings.ToLower(string(status)))
}

// NewRunEvent builds the event of a finished run, keeping at most topN
// results.
func NewRunEvent(mission *models.Mission, run *models.MissionRun, results []models.RunResult, topN int, now time.Time) RunEvent {
	ev := RunEvent{
		RunID:        run.ID,
		MissionID:    run.MissionID,
		RunNumber:    run.RunNumber,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		ErrorMessage: run.ErrorMessage,
		Stats:        run.Stats,
		TopResults:   make([]ResultSummary, 0, min(topN, len(results))),
		OccurredAt:   now,
	}
	if mission != nil {
		ev.MissionName = mission.Name
	}
	for i := range results {
		if i >= topN {
			break
		}
		r := &results[i]
		ev.TopResults = append(ev.TopResults, ResultSummary{
			Keyword:         r.Keyword,
			Region:          r.Region,
			TimeWindow:      r.TimeWindow,
			TrendScore:      r.TrendScore,
			CurrentInterest: r.CurrentInterest,
			RankPosition:    r.RankPosition,
		})
	}
	return ev
}

// Notifier publishes a RunEvent for every finished run.
type Notifier struct {
	pub    Publisher
	prefix string
	topN   int
	now    func() time.Time
}

// NewNotifier creates a Notifier publishing under prefix.
func NewNotifier(pub Publisher, prefix string, topN int) *Notifier {
	if prefix == "" {
		prefix = "trendscout"
	}
	if topN <= 0 {
		topN = 10
	}
	return &Notifier{pub: pub, prefix: prefix, topN: topN, now: time.Now}
}

// NotifyRun publishes the run's event.
func (n *Notifier) NotifyRun(ctx context.Context, mission *models.Mission, run *models.MissionRun, results []models.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := NewRunEvent(mission, run, results, n.topN, n.now().UTC())
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	subject := Subject(n.prefix, run.Status)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	logger.Debug("Published %s for run %s", subject, run.ID)
	return nil
}
