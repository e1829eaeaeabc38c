package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sentinelpay/triage/internal/idgen"
	"github.com/sentinelpay/triage/internal/ledger"
)

// Engine defaults. Thresholds are tuned for INR retail card spend.
const (
	defaultZScoreFlag     = 2.0
	defaultZScoreHigh     = 3.0
	defaultMaxTravelKmh   = 900.0 // commercial flight speed
	defaultUnusualFrom    = 0     // hours [from, to)
	defaultUnusualTo      = 5
	defaultLowThreshold   = 0.4 // riskScore below this is low
	defaultHighThreshold  = 0.7 // riskScore at or above this is high
	velocityFloor         = 2   // minimum hourly threshold for any customer
	amountHistoryMinimum  = 3   // z-score needs at least this many samples
	velocityLookbackHours = 1
)

// Engine runs the six risk checks and aggregates their signals.
type Engine struct {
	store         Store
	lowThreshold  float64
	highThreshold float64
	unusualFrom   int
	unusualTo     int
	maxTravelKmh  float64
}

// NewEngine creates a risk engine backed by the given audit store. A nil
// store disables the audit trail.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:         store,
		lowThreshold:  defaultLowThreshold,
		highThreshold: defaultHighThreshold,
		unusualFrom:   defaultUnusualFrom,
		unusualTo:     defaultUnusualTo,
		maxTravelKmh:  defaultMaxTravelKmh,
	}
}

// WithLevelThresholds overrides the low/high riskScore boundaries.
func (e *Engine) WithLevelThresholds(low, high float64) *Engine {
	e.lowThreshold = low
	e.highThreshold = high
	return e
}

// WithUnusualHours overrides the [from, to) unusual-hours window.
func (e *Engine) WithUnusualHours(from, to int) *Engine {
	e.unusualFrom = from
	e.unusualTo = to
	return e
}

// Assess runs all checks against the transaction and history and aggregates
// the result. Checks are order-independent; the window clock is the
// transaction's own timestamp so replayed assessments are deterministic.
func (e *Engine) Assess(ctx context.Context, tx *ledger.Transaction, history *History) *Assessment {
	var signals []Signal
	for _, check := range []func(*ledger.Transaction, *History) *Signal{
		e.checkVelocity,
		e.checkAmount,
		e.checkLocation,
		e.checkMerchant,
		e.checkDevice,
		e.checkTime,
	} {
		if s := check(tx, history); s != nil {
			signals = append(signals, *s)
		}
	}

	if len(signals) == 0 {
		signals = append(signals, Signal{
			Type:        SignalBaseline,
			Severity:    SeverityLow,
			Score:       0,
			Description: "no anomalies detected against customer history",
		})
	}

	assessment := e.aggregate(tx, signals)

	// Best-effort audit trail, off the hot path.
	if e.store != nil {
		go func() {
			_ = e.store.Record(context.WithoutCancel(ctx), assessment)
		}()
	}
	return assessment
}

func (e *Engine) aggregate(tx *ledger.Transaction, signals []Signal) *Assessment {
	var sum float64
	var high, medium int
	freeze := false
	reasoning := make([]string, 0, len(signals))

	for _, s := range signals {
		sum += s.Score
		switch s.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
		if s.Severity == SeverityHigh {
			if v, ok := s.Metadata["recommend_freeze"].(bool); ok && v {
				freeze = true
			}
		}
		reasoning = append(reasoning, s.Description)
	}

	score := math.Min(1, sum/(float64(len(signals))*MaxSignalScore))
	score = math.Round(score*1000) / 1000

	level := SeverityLow
	switch {
	case score >= e.highThreshold:
		level = SeverityHigh
	case score >= e.lowThreshold:
		level = SeverityMedium
	}

	var recommendation Recommendation
	switch level {
	case SeverityHigh:
		recommendation = RecommendBlock
	case SeverityMedium:
		recommendation = RecommendInvestigate
	default:
		recommendation = RecommendMonitor
	}
	if freeze {
		recommendation = RecommendFreezeCard
	}

	confidence := math.Min(1, 0.5+0.3*float64(high)+0.1*float64(medium))

	return &Assessment{
		ID:             idgen.WithPrefix("risk_"),
		CustomerID:     tx.CustomerID,
		TransactionID:  tx.ID,
		RiskScore:      score,
		RiskLevel:      level,
		Signals:        signals,
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		EvaluatedAt:    time.Now(),
	}
}

// checkVelocity compares the trailing-hour transaction count against a
// dynamic threshold derived from the customer's typical hourly rate,
// floored at velocityFloor.
func (e *Engine) checkVelocity(tx *ledger.Transaction, history *History) *Signal {
	if len(history.Transactions) == 0 {
		return nil
	}

	cutoff := tx.Timestamp.Add(-velocityLookbackHours * time.Hour)
	recent := 0
	oldest := tx.Timestamp
	for _, h := range history.Transactions {
		if h.Timestamp.After(cutoff) {
			recent++
		}
		if h.Timestamp.Before(oldest) {
			oldest = h.Timestamp
		}
	}
	recent++ // the transaction under assessment

	spanHours := tx.Timestamp.Sub(oldest).Hours()
	threshold := float64(velocityFloor)
	if spanHours > 1 {
		typical := float64(len(history.Transactions)) / spanHours
		if t := math.Ceil(typical * 3); t > threshold {
			threshold = t
		}
	}

	ratio := float64(recent) / threshold
	if ratio <= 1 {
		return nil
	}

	severity := SeverityLow
	switch {
	case ratio >= 3:
		severity = SeverityHigh
	case ratio >= 2:
		severity = SeverityMedium
	}

	return &Signal{
		Type:        SignalVelocity,
		Severity:    severity,
		Score:       math.Min(MaxSignalScore, ratio),
		Description: fmt.Sprintf("%d transactions in the last hour against a typical threshold of %.0f", recent, threshold),
		Metadata:    map[string]any{"recentCount": recent, "threshold": threshold, "ratio": math.Round(ratio*100) / 100},
	}
}

// checkAmount flags amounts whose z-score against the trailing history
// exceeds the flag threshold.
func (e *Engine) checkAmount(tx *ledger.Transaction, history *History) *Signal {
	if len(history.Transactions) < amountHistoryMinimum {
		return nil
	}

	var sum float64
	for _, h := range history.Transactions {
		sum += h.Amount
	}
	mean := sum / float64(len(history.Transactions))

	var variance float64
	for _, h := range history.Transactions {
		d := h.Amount - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(history.Transactions)))
	if std < mean*0.05 {
		// Nearly uniform spending; avoid a degenerate z-score.
		std = mean * 0.05
	}
	if std == 0 {
		return nil
	}

	z := (tx.Amount - mean) / std
	if z < defaultZScoreFlag {
		return nil
	}

	severity := SeverityMedium
	if z >= defaultZScoreHigh {
		severity = SeverityHigh
	}

	return &Signal{
		Type:        SignalAmount,
		Severity:    severity,
		Score:       math.Min(MaxSignalScore, z/2),
		Description: fmt.Sprintf("amount %.0f is %.1f standard deviations above the customer average of %.0f", tx.Amount, z, mean),
		Metadata:    map[string]any{"zScore": math.Round(z*100) / 100, "mean": mean},
	}
}

// checkLocation flags impossible travel: great-circle distance to the
// nearest recent geo-tagged transaction divided by elapsed time, compared
// against a maximum plausible travel speed.
func (e *Engine) checkLocation(tx *ledger.Transaction, history *History) *Signal {
	if !tx.HasGeo {
		return nil
	}

	var nearest *ledger.Transaction
	for _, h := range history.Transactions {
		if !h.HasGeo || !h.Timestamp.Before(tx.Timestamp) {
			continue
		}
		if nearest == nil || h.Timestamp.After(nearest.Timestamp) {
			nearest = h
		}
	}
	if nearest == nil {
		return nil
	}

	distKm := haversineKm(tx.Latitude, tx.Longitude, nearest.Latitude, nearest.Longitude)
	elapsed := tx.Timestamp.Sub(nearest.Timestamp).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 60 // same-minute transactions
	}
	speed := distKm / elapsed
	if speed <= e.maxTravelKmh {
		return nil
	}

	return &Signal{
		Type:        SignalLocation,
		Severity:    SeverityHigh,
		Score:       MaxSignalScore,
		Description: fmt.Sprintf("implied travel speed %.0f km/h over %.0f km exceeds plausible maximum", speed, distKm),
		Metadata: map[string]any{
			"distanceKm":       math.Round(distKm),
			"impliedSpeedKmh":  math.Round(speed),
			"recommend_freeze": true,
		},
	}
}

// checkMerchant flags merchants the customer has never transacted with.
func (e *Engine) checkMerchant(tx *ledger.Transaction, history *History) *Signal {
	if len(history.Transactions) == 0 {
		return nil
	}
	count := 0
	for _, h := range history.Transactions {
		if h.Merchant == tx.Merchant {
			count++
		}
	}
	if count > 0 {
		return nil
	}

	return &Signal{
		Type:        SignalMerchant,
		Severity:    SeverityLow,
		Score:       1,
		Description: fmt.Sprintf("first transaction with merchant %q", tx.Merchant),
		Metadata:    map[string]any{"merchant": tx.Merchant},
	}
}

// checkDevice flags device IDs not in the customer's known-device set.
func (e *Engine) checkDevice(tx *ledger.Transaction, history *History) *Signal {
	if tx.DeviceID == "" {
		return nil
	}
	for _, d := range history.Devices {
		if d.ID == tx.DeviceID {
			return nil
		}
	}

	return &Signal{
		Type:        SignalDevice,
		Severity:    SeverityMedium,
		Score:       1.5,
		Description: fmt.Sprintf("transaction from unrecognized device %q", tx.DeviceID),
		Metadata:    map[string]any{"deviceId": tx.DeviceID},
	}
}

// checkTime flags transactions inside the configured unusual-hours window.
func (e *Engine) checkTime(tx *ledger.Transaction, _ *History) *Signal {
	hour := tx.Timestamp.Hour()
	if hour < e.unusualFrom || hour >= e.unusualTo {
		return nil
	}

	return &Signal{
		Type:        SignalTime,
		Severity:    SeverityLow,
		Score:       1,
		Description: fmt.Sprintf("transaction at %02d:00 falls in unusual hours", hour),
		Metadata:    map[string]any{"hour": hour},
	}
}

// haversineKm computes the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
