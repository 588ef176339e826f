package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/pipeline"
)

// Monitor runs one poll loop per event, feeding every registered Source's
// output into a pipeline.Coordinator. Construct with New.
type Monitor struct {
	eventId   int
	coord     *pipeline.Coordinator
	sources   []Source
	health    []*sourceHealth
	interval  time.Duration
	threshold int
	log       zerolog.Logger
}

// New creates a Monitor for eventId. interval is the poll-tick period;
// healthThreshold is the consecutive-failure count at which a source is
// reported StatusFailed rather than StatusDegraded.
func New(eventId int, coord *pipeline.Coordinator, sources []Source, interval time.Duration, healthThreshold int, log zerolog.Logger) *Monitor {
	health := make([]*sourceHealth, len(sources))
	for i := range sources {
		health[i] = newSourceHealth()
	}
	return &Monitor{
		eventId:   eventId,
		coord:     coord,
		sources:   sources,
		health:    health,
		interval:  interval,
		threshold: healthThreshold,
		log:       log.With().Int("event_id", eventId).Logger(),
	}
}

// Run polls every source on a fixed tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll drives one tick across every source; a panic from a single Source
// is recovered and recorded as a failure rather than taking down the whole
// monitor (§7 "no unchecked exception should propagate past §4.1").
func (m *Monitor) poll(ctx context.Context) {
	for i, src := range m.sources {
		m.pollOne(ctx, i, src)
	}
}

func (m *Monitor) pollOne(ctx context.Context, i int, src Source) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("source", src.Name()).Interface("panic", r).Msg("source poll panicked")
			m.health[i].recordFailure(panicError{r})
		}
	}()

	msgs, err := src.Poll(ctx)
	if err != nil {
		m.health[i].recordFailure(err)
		m.log.Warn().Err(err).Str("source", src.Name()).Msg("poll failed")
		return
	}
	m.health[i].recordSuccess()

	now := time.Now()
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		m.coord.Post(msg)
	}
}

// Health reports the current status of every registered source.
func (m *Monitor) Health() []Report {
	reports := make([]Report, len(m.sources))
	for i, src := range m.sources {
		reports[i] = m.health[i].report(src.Name(), m.threshold)
	}
	return reports
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic: " + errString(p.v) }

func errString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}
