package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"tracehub/internal/domain"
)

// TrendBucket classifies a percentage change.
type TrendBucket string

const (
	TrendStrongGrowth  TrendBucket = "strong_growth"
	TrendGrowth        TrendBucket = "growth"
	TrendStable        TrendBucket = "stable"
	TrendDecline       TrendBucket = "decline"
	TrendStrongDecline TrendBucket = "strong_decline"
)

// TrendThresholds are the bucket boundaries in percent.
type TrendThresholds struct {
	Moderate float64
	Strong   float64
}

// DefaultTrendThresholds returns the ±5% / ±10% boundaries.
// Params: none.
// Returns: thresholds.
func DefaultTrendThresholds() TrendThresholds {
	return TrendThresholds{Moderate: 5, Strong: 10}
}

// Trend compares the two halves of a period ending now.
type Trend struct {
	Period         string      `json:"period"`
	From           time.Time   `json:"from"`
	Midpoint       time.Time   `json:"midpoint"`
	To             time.Time   `json:"to"`
	FirstHalf      int         `json:"firstHalf"`
	SecondHalf     int         `json:"secondHalf"`
	ChangePercent  float64     `json:"changePercent"`
	Bucket         TrendBucket `json:"bucket"`
	Interpretation string      `json:"interpretation"`
	Recommendation string      `json:"recommendation"`
}

// TrendDelta counts matching operations in each half of the period and buckets the change.
// Params: operations, current time, period, filter and thresholds.
// Returns: trend; change is 0 when the first half is empty.
func TrendDelta(ops []*domain.Operation, now time.Time, period time.Duration, filter Filter, thresholds TrendThresholds) Trend {
	from := now.Add(-period)
	midpoint := now.Add(-period / 2)
	trend := Trend{Period: FormatPeriod(period), From: from, Midpoint: midpoint, To: now}
	for _, op := range ops {
		at := op.RecordedAt
		if at.Before(from) || at.After(now) || !filter.Match(op) {
			continue
		}
		if at.Before(midpoint) {
			trend.FirstHalf++
		} else {
			trend.SecondHalf++
		}
	}
	if trend.FirstHalf > 0 {
		trend.ChangePercent = round2(float64(trend.SecondHalf-trend.FirstHalf) / float64(trend.FirstHalf) * 100)
	}
	trend.Bucket = Classify(trend.ChangePercent, thresholds)
	trend.Interpretation, trend.Recommendation = describeTrend(trend.Bucket)
	return trend
}

// Classify buckets a percentage change.
// Params: change in percent and thresholds.
// Returns: bucket.
func Classify(change float64, thresholds TrendThresholds) TrendBucket {
	switch {
	case change > thresholds.Strong:
		return TrendStrongGrowth
	case change > thresholds.Moderate:
		return TrendGrowth
	case change < -thresholds.Strong:
		return TrendStrongDecline
	case change < -thresholds.Moderate:
		return TrendDecline
	default:
		return TrendStable
	}
}

func describeTrend(bucket TrendBucket) (string, string) {
	switch bucket {
	case TrendStrongGrowth:
		return "Strong growth in trade flows", "Check broker and customs capacity for the higher load"
	case TrendGrowth:
		return "Moderate growth in trade flows", "Keep monitoring corridor performance"
	case TrendDecline:
		return "Moderate decline in trade flows", "Review which corridors lost activity"
	case TrendStrongDecline:
		return "Strong decline in trade flows", "Investigate member connectivity and rejected submissions"
	default:
		return "Trade flows are stable", "No action required"
	}
}

var periodPattern = regexp.MustCompile(`^(\d+)([hd])$`)

// ParsePeriod parses "24h" or "7d" style windows.
// Params: text and fallback used for empty input.
// Returns: duration or error for malformed text.
func ParsePeriod(text string, fallback time.Duration) (time.Duration, error) {
	if text == "" {
		return fallback, nil
	}
	match := periodPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, fmt.Errorf("period %q must look like 24h or 7d", text)
	}
	value, err := strconv.Atoi(match[1])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("period %q must be positive", text)
	}
	if match[2] == "d" {
		return time.Duration(value) * 24 * time.Hour, nil
	}
	return time.Duration(value) * time.Hour, nil
}

// FormatPeriod renders a duration the way ParsePeriod reads it.
// Params: duration.
// Returns: "7d" for whole days, otherwise hours.
func FormatPeriod(period time.Duration) string {
	if period > 0 && period%(24*time.Hour) == 0 {
		return strconv.Itoa(int(period/(24*time.Hour))) + "d"
	}
	return strconv.Itoa(int(math.Ceil(period.Hours()))) + "h"
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
