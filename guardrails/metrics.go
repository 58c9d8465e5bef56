package guardrails

import (
	"maps"
	"time"
)

// Metrics is a read-only snapshot of recorder counters.
type Metrics struct {
	TotalRequests     uint64 `json:"total_requests"`
	BlockedRequests   uint64 `json:"blocked_requests"`
	RedactedRequests  uint64 `json:"redacted_requests"`
	SanitizedRequests uint64 `json:"sanitized_requests"`
	WarnedRequests    uint64 `json:"warned_requests"`
	FlaggedRequests   uint64 `json:"flagged_requests"`
	AllowedRequests   uint64 `json:"allowed_requests"`
	ExemptedRequests  uint64 `json:"exempted_requests"`
	DetectedRequests  uint64 `json:"detected_requests"`
	DetectorErrors    uint64 `json:"detector_errors"`
	DetectorTimeouts  uint64 `json:"detector_timeouts"`
	IncidentsTotal    uint64 `json:"incidents_total"`
	SinkFailures      uint64 `json:"sink_failures"`

	DetectionsByClass   map[ThreatClass]uint64 `json:"detections_by_class"`
	IncidentsBySeverity map[Severity]uint64    `json:"incidents_by_severity"`

	BlockRate      float64       `json:"block_rate"`
	DetectionRate  float64       `json:"detection_rate"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Observer receives per-request events, typically for export to a metrics
// backend. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRequest(direction Direction, rec Recommendation, latency time.Duration)
	ObserveClass(class ThreatClass, rec Recommendation, score float64, detected bool)
	ObserveDetectorFailure(class ThreatClass, technique string)
	ObserveIncident(class ThreatClass, severity Severity)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ObserveRequest(Direction, Recommendation, time.Duration) {}
func (NopObserver) ObserveClass(ThreatClass, Recommendation, float64, bool) {}
func (NopObserver) ObserveDetectorFailure(ThreatClass, string)              {}
func (NopObserver) ObserveIncident(ThreatClass, Severity)                   {}

type counters struct {
	Metrics
	totalLatency time.Duration
}

func (c *counters) init() {
	c.DetectionsByClass = make(map[ThreatClass]uint64)
	c.IncidentsBySeverity = make(map[Severity]uint64)
}

func (c *counters) observe(out *Outcome) {
	c.TotalRequests++
	c.totalLatency += out.ProcessingTime
	if out.Exempted {
		c.ExemptedRequests++
	}
	switch out.Recommendation {
	case RecommendBlock:
		c.BlockedRequests++
	case RecommendRedact:
		c.RedactedRequests++
	case RecommendSanitize:
		c.SanitizedRequests++
	case RecommendWarn:
		c.WarnedRequests++
	case RecommendFlag:
		c.FlaggedRequests++
	default:
		c.AllowedRequests++
	}

	detected := false
	for _, class := range out.Order {
		co := out.Classes[class]
		if co == nil {
			continue
		}
		switch co.Technique {
		case TechniqueDetectorError:
			c.DetectorErrors++
		case TechniqueDetectorTimeout:
			c.DetectorTimeouts++
		}
		if co.Detected {
			detected = true
			c.DetectionsByClass[class]++
		}
	}
	if detected {
		c.DetectedRequests++
	}
}

func (c *counters) incident(sev Severity) {
	c.IncidentsTotal++
	c.IncidentsBySeverity[sev]++
}

func (c *counters) snapshot() Metrics {
	m := c.Metrics
	m.DetectionsByClass = maps.Clone(c.DetectionsByClass)
	m.IncidentsBySeverity = maps.Clone(c.IncidentsBySeverity)
	if m.TotalRequests > 0 {
		total := float64(m.TotalRequests)
		m.BlockRate = float64(m.BlockedRequests) / total
		m.DetectionRate = float64(m.DetectedRequests) / total
		m.AverageLatency = c.totalLatency / time.Duration(m.TotalRequests)
	}
	return m
}
