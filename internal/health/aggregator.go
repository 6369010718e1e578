package health

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Severity orders alerts for display; critical sorts first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AlertType classifies what a fleet alert is about.
type AlertType string

const (
	AlertStale        AlertType = "stale"
	AlertDisconnected AlertType = "disconnected"
	AlertDisabled     AlertType = "disabled"
	AlertError        AlertType = "error"
)

// Alert is derived, never stored: it is recomputed on demand from the
// trackers so it cannot go stale relative to its inputs.
type Alert struct {
	Module     string    `json:"module"`
	Type       AlertType `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Since      time.Time `json:"since"`
	AgeSeconds float64   `json:"ageSeconds"`
}

// AlertCounts tallies alerts by severity. Total is always the sum of the
// three buckets; it is derived, not tracked.
type AlertCounts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// AlertReport is the fleet-wide alert listing.
type AlertReport struct {
	Alerts      []Alert     `json:"alerts"`
	Counts      AlertCounts `json:"counts"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

// VenueScore is the 0-100 data-quality score for one venue.
type VenueScore struct {
	Venue      string `json:"venue"`
	Score      int    `json:"score"`
	Grade      string `json:"grade"`
	Freshness  int    `json:"freshness"`
	ErrorScore int    `json:"errorScore"`
	RateScore  int    `json:"rateScore"`
	Disabled   bool   `json:"disabled"`
}

// QualityReport carries per-venue scores and the fleet aggregate.
type QualityReport struct {
	Venues      []VenueScore `json:"venues"`
	SystemScore int          `json:"systemScore"`
	SystemGrade string       `json:"systemGrade"`
}

// VenueDirectory is the registry view the aggregator needs: the full venue
// list and the administratively disabled set.
type VenueDirectory interface {
	Names() []string
	IsDisabled(name string) bool
}

// Aggregator combines the staleness tracker, reconnect tracker, disabled set
// and circuit breaker store into alerts and quality scores. It holds no
// state of its own.
type Aggregator struct {
	staleness  *StalenessTracker
	reconnects *ReconnectTracker
	breakers   *CircuitBreakerStore
	venues     VenueDirectory
	now        func() time.Time
}

func NewAggregator(staleness *StalenessTracker, reconnects *ReconnectTracker, breakers *CircuitBreakerStore, venues VenueDirectory) *Aggregator {
	return &Aggregator{
		staleness:  staleness,
		reconnects: reconnects,
		breakers:   breakers,
		venues:     venues,
		now:        time.Now,
	}
}

// StalenessSummary exposes the staleness tracker's current view.
func (a *Aggregator) StalenessSummary() []StalenessRecord {
	return a.staleness.Summary()
}

// ReconnectSummary exposes the reconnect tracker's current view.
func (a *Aggregator) ReconnectSummary() []ReconnectRecord {
	return a.reconnects.Summary()
}

// Breaker returns the venue's circuit breaker snapshot, nil if unconfigured.
func (a *Aggregator) Breaker(venue string) *Breaker {
	return a.breakers.Get(venue)
}

// Alerts computes the fleet-wide alert report. In this listing a disabled
// venue carries info severity.
func (a *Aggregator) Alerts() AlertReport {
	now := a.now()
	var alerts []Alert
	for _, venue := range a.venues.Names() {
		alerts = append(alerts, a.venueAlerts(venue, now, SeverityInfo)...)
	}
	sortAlerts(alerts)

	counts := AlertCounts{}
	for _, al := range alerts {
		switch al.Severity {
		case SeverityCritical:
			counts.Critical++
		case SeverityWarning:
			counts.Warning++
		case SeverityInfo:
			counts.Info++
		}
	}
	counts.Total = counts.Critical + counts.Warning + counts.Info

	return AlertReport{Alerts: alerts, Counts: counts, GeneratedAt: now}
}

// VenueAlerts computes the alert listing for a single venue. The per-venue
// listing reports a disabled venue at warning severity, matching the
// behavior the fleet endpoints grew up with; Alerts uses info.
func (a *Aggregator) VenueAlerts(venue string) []Alert {
	alerts := a.venueAlerts(venue, a.now(), SeverityWarning)
	sortAlerts(alerts)
	return alerts
}

func (a *Aggregator) venueAlerts(venue string, now time.Time, disabledSeverity Severity) []Alert {
	var alerts []Alert

	if a.venues.IsDisabled(venue) {
		alerts = append(alerts, Alert{
			Module:   venue,
			Type:     AlertDisabled,
			Severity: disabledSeverity,
			Message:  fmt.Sprintf("module %s is administratively disabled", venue),
			Since:    now,
		})
	}

	if lastSeen, ok := a.staleness.LastSeen(venue); ok {
		age := now.Sub(lastSeen)
		if age > a.staleness.Threshold() {
			severity := SeverityWarning
			if age > criticalStalenessAge {
				severity = SeverityCritical
			}
			alerts = append(alerts, Alert{
				Module:     venue,
				Type:       AlertStale,
				Severity:   severity,
				Message:    fmt.Sprintf("no data from %s for %.0fs", venue, age.Seconds()),
				Since:      lastSeen,
				AgeSeconds: age.Seconds(),
			})
		}
	}

	if count := a.reconnects.Count(venue); count >= 1 {
		severity := SeverityWarning
		if count >= 5 {
			severity = SeverityCritical
		}
		since, _ := a.reconnects.LastAt(venue)
		alerts = append(alerts, Alert{
			Module:     venue,
			Type:       AlertDisconnected,
			Severity:   severity,
			Message:    fmt.Sprintf("%d reconnect(s) in the last hour for %s", count, venue),
			Since:      since,
			AgeSeconds: now.Sub(since).Seconds(),
		})
	}

	if b := a.breakers.Get(venue); b != nil && b.State == BreakerOpen {
		since := now
		if b.LastTrippedAt != nil {
			since = *b.LastTrippedAt
		}
		alerts = append(alerts, Alert{
			Module:     venue,
			Type:       AlertError,
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("circuit breaker open for %s (%d trip(s))", venue, b.TripCount),
			Since:      since,
			AgeSeconds: now.Sub(since).Seconds(),
		})
	}

	return alerts
}

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

func sortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if severityRank[alerts[i].Severity] != severityRank[alerts[j].Severity] {
			return severityRank[alerts[i].Severity] < severityRank[alerts[j].Severity]
		}
		return alerts[i].Module < alerts[j].Module
	})
}

// QualityScores computes the 0-100 score and letter grade per venue and for
// the whole fleet.
func (a *Aggregator) QualityScores() QualityReport {
	names := a.venues.Names()
	report := QualityReport{Venues: make([]VenueScore, 0, len(names))}

	sum := 0
	for _, venue := range names {
		vs := a.scoreVenue(venue)
		report.Venues = append(report.Venues, vs)
		sum += vs.Score
	}

	if len(report.Venues) > 0 {
		report.SystemScore = int(math.Round(float64(sum) / float64(len(report.Venues))))
	} else {
		report.SystemScore = 100
	}
	report.SystemGrade = GradeFor(report.SystemScore)
	return report
}

func (a *Aggregator) scoreVenue(venue string) VenueScore {
	freshness := a.freshnessScore(venue)
	errorScore := errorScoreFor(a.reconnects.Count(venue))
	rateScore := a.rateScore(venue)

	score := int(math.Round(0.4*float64(freshness) + 0.3*float64(errorScore) + 0.3*float64(rateScore)))
	disabled := a.venues.IsDisabled(venue)
	if disabled {
		// Administrative disablement overrides the component scores.
		score = 0
	}

	return VenueScore{
		Venue:      venue,
		Score:      score,
		Grade:      GradeFor(score),
		Freshness:  freshness,
		ErrorScore: errorScore,
		RateScore:  rateScore,
		Disabled:   disabled,
	}
}

// freshnessScore is 100 while data is inside the staleness threshold,
// scales down with age once stale, and is 0 for a venue never seen.
func (a *Aggregator) freshnessScore(venue string) int {
	age, ok := a.staleness.Age(venue)
	if !ok {
		return 0
	}
	threshold := a.staleness.Threshold()
	if age <= threshold {
		return 100
	}
	scaled := 100 * threshold.Seconds() / age.Seconds()
	return int(math.Round(scaled))
}

// errorScoreFor steps down 10 points per reconnect in the window: full
// marks at zero reconnects, zero at ten or more.
func errorScoreFor(reconnects int) int {
	score := 100 - 10*reconnects
	if score < 0 {
		score = 0
	}
	return score
}

// rateScore reflects whether the venue is currently producing messages at
// all: 0 if never seen, 100 while fresh, 50 once the feed has gone quiet.
func (a *Aggregator) rateScore(venue string) int {
	if _, ok := a.staleness.LastSeen(venue); !ok {
		return 0
	}
	if a.staleness.Stale(venue) {
		return 50
	}
	return 100
}

// GradeFor maps a score onto a letter grade.
func GradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
