package services

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// WindDirectionLabel maps a bearing in degrees to one of eight compass
// points. Sector boundaries round up, so 22.5 is NE.
func WindDirectionLabel(degree float64) string {
	d := math.Mod(degree, 360)
	if d < 0 {
		d += 360
	}
	i := int(math.Floor(d/45+0.5)) % 8
	return compassPoints[i]
}

// LocalTime formats an epoch-seconds instant as "6:05 AM" in loc.
func LocalTime(epoch int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(epoch, 0).In(loc).Format("3:04 PM")
}

func ConditionTitle(description string) string {
	return cases.Title(language.English).String(description)
}

// DescribeReading derives the display facts for a reading.
func DescribeReading(r *models.WeatherReading, loc *time.Location) models.WeatherDetails {
	return models.WeatherDetails{
		Sunrise:       LocalTime(r.Sunrise, loc),
		Sunset:        LocalTime(r.Sunset, loc),
		WindDirection: fmt.Sprintf("%s (%s°)", WindDirectionLabel(r.WindDegree), formatNumber(r.WindDegree)),
		Pressure:      formatNumber(r.Pressure) + " hPa",
		Humidity:      formatNumber(r.Humidity) + "%",
		Condition:     ConditionTitle(r.Condition.Description),
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
