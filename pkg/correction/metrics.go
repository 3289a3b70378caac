package correction

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// Outcome labels for a correction attempt.
const (
	OutcomeDeterministicSuccess = "deterministic_success"
	OutcomeCollaboratorSuccess  = "collaborator_success"
	OutcomeFailure              = "failure"
)

// KindCounts are the attempt outcomes for one error kind.
type KindCounts struct {
	DeterministicSuccess int `json:"deterministic_success"`
	CollaboratorSuccess  int `json:"collaborator_success"`
	Failure              int `json:"failure"`
}

// Total returns the number of attempts counted.
func (c KindCounts) Total() int {
	return c.DeterministicSuccess + c.CollaboratorSuccess + c.Failure
}

// Summary is a snapshot of the correction counters.
type Summary struct {
	TotalAttempts      int                             `json:"total_attempts"`
	DeterministicRatio float64                         `json:"deterministic_ratio"`
	SuccessRatio       float64                         `json:"success_ratio"`
	ByKind             map[models.ErrorKind]KindCounts `json:"by_kind"`
}

// Metrics counts correction attempts by error kind and outcome. It is shared by all
// pipeline runs and safe for concurrent use.
type Metrics struct {
	mu     sync.Mutex
	counts map[models.ErrorKind]*KindCounts

	attempts *prometheus.CounterVec
}

// NewMetrics creates the counters. When reg is non-nil the counters are also exported as
// text2sql_correction_attempts_total{kind,outcome}.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{counts: make(map[models.ErrorKind]*KindCounts)}
	if reg != nil {
		m.attempts = promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_correction_attempts_total",
				Help: "Total number of SQL correction attempts",
			},
			[]string{"kind", "outcome"},
		)
	}
	return m
}

// Record counts one attempt for kind. Unknown outcomes are counted as failures.
func (m *Metrics) Record(kind models.ErrorKind, outcome string) {
	m.mu.Lock()
	c, ok := m.counts[kind]
	if !ok {
		c = &KindCounts{}
		m.counts[kind] = c
	}
	switch outcome {
	case OutcomeDeterministicSuccess:
		c.DeterministicSuccess++
	case OutcomeCollaboratorSuccess:
		c.CollaboratorSuccess++
	default:
		outcome = OutcomeFailure
		c.Failure++
	}
	m.mu.Unlock()

	if m.attempts != nil {
		m.attempts.WithLabelValues(string(kind), outcome).Inc()
	}
}

// Summary returns totals and ratios. Ratios are 0 when nothing has been recorded.
func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{ByKind: make(map[models.ErrorKind]KindCounts, len(m.counts))}
	deterministic, successes := 0, 0
	for kind, c := range m.counts {
		s.ByKind[kind] = *c
		s.TotalAttempts += c.Total()
		deterministic += c.DeterministicSuccess
		successes += c.DeterministicSuccess + c.CollaboratorSuccess
	}
	if s.TotalAttempts > 0 {
		s.DeterministicRatio = float64(deterministic) / float64(s.TotalAttempts)
		s.SuccessRatio = float64(successes) / float64(s.TotalAttempts)
	}
	return s
}
