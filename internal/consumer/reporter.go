package consumer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// Reporter turns results into one log line each, metrics, and Stats.
type Reporter struct {
	logger *zap.Logger
	stats  *Stats
}

func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger, stats: NewStats()}
}

func (r *Reporter) Stats() *Stats {
	return r.stats
}

// Report records res.
func (r *Reporter) Report(res models.Result) {
	r.stats.record(res)
	if res.Terminal() {
		metrics.MessagesHandledTotal.WithLabelValues(string(res.Outcome)).Inc()
	}

	switch res.Outcome {
	case models.OutcomeDelivered:
		r.logger.Info("order received",
			zap.String("message_id", res.MessageID),
			zap.Bool("redelivered", res.Redelivered),
		)
	case models.OutcomeMalformed:
		r.logger.Warn("malformed message",
			zap.String("message_id", res.MessageID),
			zap.ByteString("payload", res.Payload),
			zap.Error(res.Err),
		)
	case models.OutcomeProcessingFailed:
		r.logger.Error("order processing failed",
			zap.Int("order_id", res.OrderID),
			zap.String("step", res.Step),
			zap.Bool("requeued", res.Requeued),
			zap.Error(res.Err),
		)
	case models.OutcomeProcessingSucceeded:
		r.logger.Info("order processed",
			zap.Int("order_id", res.OrderID),
			zap.String("product", res.Product),
			zap.String("total", res.TotalString()),
			zap.Duration("duration", res.Duration),
		)
	case models.OutcomeDuplicate:
		r.logger.Info("duplicate delivery skipped",
			zap.Int("order_id", res.OrderID),
			zap.String("message_id", res.MessageID),
		)
	}
}

// Stats counts outcomes since the consumer started.
type Stats struct {
	mu          sync.Mutex
	started     time.Time
	counts      map[models.Outcome]int64
	lastOrderID int
	lastOutcome models.Outcome
	lastAt      time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Since       time.Time  `json:"since"`
	Delivered   int64      `json:"delivered"`
	Malformed   int64      `json:"malformed"`
	Failed      int64      `json:"processing_failed"`
	Succeeded   int64      `json:"processing_succeeded"`
	Duplicates  int64      `json:"duplicates"`
	LastOrderID int        `json:"last_order_id,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastAt      *time.Time `json:"last_at,omitempty"`
}

func NewStats() *Stats {
	return &Stats{
		started: time.Now().UTC(),
		counts:  make(map[models.Outcome]int64),
	}
}

func (s *Stats) record(res models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[res.Outcome]++
	if !res.Terminal() {
		return
	}
	if res.OrderID != 0 {
		s.lastOrderID = res.OrderID
	}
	s.lastOutcome = res.Outcome
	s.lastAt = time.Now().UTC()
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Since:       s.started,
		Delivered:   s.counts[models.OutcomeDelivered],
		Malformed:   s.counts[models.OutcomeMalformed],
		Failed:      s.counts[models.OutcomeProcessingFailed],
		Succeeded:   s.counts[models.OutcomeProcessingSucceeded],
		Duplicates:  s.counts[models.OutcomeDuplicate],
		LastOrderID: s.lastOrderID,
		LastOutcome: string(s.lastOutcome),
	}
	if !s.lastAt.IsZero() {
		at := s.lastAt
		snap.LastAt = &at
	}
	return snap
}
