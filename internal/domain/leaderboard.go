package domain

import "time"

// Standing is the multi-factor player position that gets packed into a single
// sortable int64. Higher encoded score = better rank. Tie-break priority:
// points, then claimed collectibles, then perfect scores, then lower average
// answer latency, then fewer sessions used, then recency.
type Standing struct {
	Points       int
	ClaimedCount int
	PerfectCount int
	AvgLatencyMs int64
	SessionsUsed int
	LastActiveAt time.Time
}

// Digit bands of the composite score. Each factor owns a fixed decimal band
// so the factors never bleed into each other; operands are clamped to their
// band width before encoding. Lower-is-better factors are stored inverted
// against the band maximum so that a single descending sort orders them.
//
//	digits 15..18  points          (clamped to maxPoints)
//	digits 12..14  claimed count   (< 1000)
//	digits  9..11  perfect count   (< 1000)
//	digits  4..8   inverted avg latency in ms (latency clamped < 100000)
//	digits  1..3   inverted sessions used     (< 1000)
//	digit   0      recency (0..9, more recent = higher)
const (
	bandPoints  = 1_000_000_000_000_000
	bandClaimed = 1_000_000_000_000
	bandPerfect = 1_000_000_000
	bandLatency = 10_000
	bandUsed    = 10

	// MaxPoints keeps points·bandPoints inside int64.
	MaxPoints = 9_000
	// MaxClaimed bounds the claimed-count band.
	MaxClaimed = 999
	// MaxPerfect bounds the perfect-count band.
	MaxPerfect = 999
	// MaxAvgLatencyMs bounds the latency band; per-answer budget is 10s so
	// real averages sit well inside it.
	MaxAvgLatencyMs = 99_999
	// MaxSessionsUsed bounds the sessions band.
	MaxSessionsUsed = 999
)

// Encode packs the standing into one composite score. now anchors the recency
// digit so callers (and tests) control the clock.
func (s Standing) Encode(now time.Time) int64 {
	points := clampInt64(int64(s.Points), 0, MaxPoints)
	claimed := clampInt64(int64(s.ClaimedCount), 0, MaxClaimed)
	perfect := clampInt64(int64(s.PerfectCount), 0, MaxPerfect)
	invLatency := int64(MaxAvgLatencyMs) - clampInt64(s.AvgLatencyMs, 0, MaxAvgLatencyMs)
	invUsed := int64(MaxSessionsUsed) - clampInt64(int64(s.SessionsUsed), 0, MaxSessionsUsed)

	return points*bandPoints +
		claimed*bandClaimed +
		perfect*bandPerfect +
		invLatency*bandLatency +
		invUsed*bandUsed +
		recencyDigit(s.LastActiveAt, now)
}

// DecodeStanding reverses the four leading bands of a composite score. The
// trailing tie-break digits are not needed for historical reporting and are
// discarded; SessionsUsed and LastActiveAt are therefore zero on the result.
func DecodeStanding(score int64) Standing {
	points := score / bandPoints
	rest := score % bandPoints
	claimed := rest / bandClaimed
	rest %= bandClaimed
	perfect := rest / bandPerfect
	rest %= bandPerfect
	invLatency := rest / bandLatency

	return Standing{
		Points:       int(points),
		ClaimedCount: int(claimed),
		PerfectCount: int(perfect),
		AvgLatencyMs: MaxAvgLatencyMs - invLatency,
	}
}

// recencyDigit maps age of last activity to 0..9: active today scores 9,
// each elapsed day drops one, floored at 0.
func recencyDigit(lastActive, now time.Time) int64 {
	if lastActive.IsZero() || lastActive.After(now) {
		return 0
	}
	days := int64(now.Sub(lastActive).Hours() / 24)
	if days >= 9 {
		return 0
	}
	return 9 - days
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MergeSession folds one finished session into the season accumulator: points
// and counters increment, latency merges as a running mean over all answered
// questions.
func (p *SeasonPoints) MergeSession(result SessionResult, latencies []int64, completedAt time.Time) {
	p.Points += result.PointsDelta
	p.SessionsUsed++
	if result.Perfect {
		p.PerfectCount++
	}
	if len(latencies) > 0 {
		var sum int64
		for _, latency := range latencies {
			sum += latency
		}
		total := p.AvgLatencyMs*int64(p.AnsweredCount) + sum
		p.AnsweredCount += len(latencies)
		p.AvgLatencyMs = total / int64(p.AnsweredCount)
	}
	p.LastActiveAt = completedAt
}

// Standing projects the accumulator into its codec form.
func (p *SeasonPoints) Standing() Standing {
	return Standing{
		Points:       p.Points,
		ClaimedCount: p.ClaimedCount,
		PerfectCount: p.PerfectCount,
		AvgLatencyMs: p.AvgLatencyMs,
		SessionsUsed: p.SessionsUsed,
		LastActiveAt: p.LastActiveAt,
	}
}
