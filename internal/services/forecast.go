package services

import (
	"math"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
)

const (
	NearTermSamples = 8
	OutlookDays     = 5
)

// TruncateNearTerm returns the first count samples. Short series are
// returned as they are.
func TruncateNearTerm(samples []models.ForecastSample, count int) []models.ForecastSample {
	if count <= 0 {
		return []models.ForecastSample{}
	}
	if len(samples) < count {
		count = len(samples)
	}
	out := make([]models.ForecastSample, count)
	copy(out, samples[:count])
	return out
}

// GroupByDay folds samples into one summary per calendar date in loc, in
// first-seen order. The first sample of a date supplies humidity, wind and
// condition; every sample widens the temperature range.
func GroupByDay(samples []models.ForecastSample, loc *time.Location) []models.DailySummary {
	if loc == nil {
		loc = time.UTC
	}

	summaries := []models.DailySummary{}
	index := map[string]int{}
	for _, s := range samples {
		date := time.Unix(s.Timestamp, 0).In(loc).Format("2006-01-02")

		i, seen := index[date]
		if !seen {
			index[date] = len(summaries)
			summaries = append(summaries, models.DailySummary{
				Date:            date,
				TempMin:         s.Temperature,
				TempMax:         s.Temperature,
				Humidity:        s.Humidity,
				WindSpeed:       s.WindSpeed,
				Condition:       s.Condition,
				AnchorTimestamp: s.Timestamp,
			})
			continue
		}

		d := &summaries[i]
		d.TempMin = math.Min(d.TempMin, s.Temperature)
		d.TempMax = math.Max(d.TempMax, s.Temperature)
	}
	return summaries
}

// UpcomingDays skips the first (partial) day and returns up to n after it.
func UpcomingDays(summaries []models.DailySummary, n int) []models.DailySummary {
	if len(summaries) <= 1 || n <= 0 {
		return []models.DailySummary{}
	}
	end := 1 + n
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[1:end]
}

// HourlyTrend turns the first count samples into chart points.
func HourlyTrend(samples []models.ForecastSample, count int, loc *time.Location) []models.TrendPoint {
	if loc == nil {
		loc = time.UTC
	}
	near := TruncateNearTerm(samples, count)
	points := make([]models.TrendPoint, 0, len(near))
	for _, s := range near {
		points = append(points, models.TrendPoint{
			Timestamp: s.Timestamp,
			Label:     time.Unix(s.Timestamp, 0).In(loc).Format("3PM"),
			Temp:      roundHalfUp(s.Temperature),
			FeelsLike: roundHalfUp(s.FeelsLike),
		})
	}
	return points
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
