package shellyedge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pat-rohn/go-shellyedge/pkg/sunpos"
)

// Point is one record for a sink. Tags identify, fields are measured.
type Point struct {
	Measurement string
	Time        time.Time
	Tags        map[string]interface{}
	Fields      map[string]interface{}
}

type SunSample struct {
	Time      time.Time
	Latitude  float32
	Longitude float32
	Azimuth   float64
	Elevation float64
}

func NewSunSample(t time.Time, latitude, longitude float32) SunSample {
	az, el := sunpos.Position(t, latitude, longitude)
	return SunSample{
		Time:      t,
		Latitude:  latitude,
		Longitude: longitude,
		Azimuth:   az,
		Elevation: el,
	}
}

// Compose returns the status point of a device followed by the sun point
// when sun is not nil.
func Compose(status DeviceStatus, t time.Time, sun *SunSample) []Point {
	points := []Point{StatusPoint(status, t)}
	if sun != nil {
		points = append(points, SunPoint(*sun))
	}
	return points
}

func StatusPoint(status DeviceStatus, t time.Time) Point {
	return Point{
		Measurement: MeasurementShelly,
		Time:        t,
		Tags: map[string]interface{}{
			"ip":     status.IP,
			"mac":    status.Mac,
			"serial": status.Serial,
			"ison":   status.IsOn,
		},
		Fields: map[string]interface{}{
			"temperature": status.Temperature,
			"uptime":      status.Uptime,
			"ram_free":    status.RAMFree,
			"fs_free":     status.FSFree,
			"power":       status.Power,
			"power_total": status.PowerTotal,
		},
	}
}

func SunPoint(sun SunSample) Point {
	return Point{
		Measurement: MeasurementSunPosition,
		Time:        sun.Time,
		Tags: map[string]interface{}{
			"lat":  sun.Latitude,
			"long": sun.Longitude,
		},
		Fields: map[string]interface{}{
			"azimuth":   sun.Azimuth,
			"elevation": sun.Elevation,
		},
	}
}

// Identity is the part of a series name telling points of one measurement apart.
func (p Point) Identity() string {
	switch p.Measurement {
	case MeasurementShelly:
		return FormatValue(p.Tags["serial"])
	case MeasurementSunPosition:
		return FormatValue(p.Tags["lat"]) + "_" + FormatValue(p.Tags["long"])
	}
	return strings.Join(p.TagList(), "_")
}

// SeriesKey names the series of one field, e.g. shelly.1234.power.
func (p Point) SeriesKey(field string) string {
	return fmt.Sprintf("%s.%s.%s", p.Measurement, p.Identity(), field)
}

// FieldNames returns the field names in a stable order.
func (p Point) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TagList renders the tags as sorted k=v pairs.
func (p Point) TagList() []string {
	tags := make([]string, 0, len(p.Tags))
	for k, v := range p.Tags {
		tags = append(tags, k+"="+FormatValue(v))
	}
	sort.Strings(tags)
	return tags
}

// FormatValue renders tag and field values the same way for every sink.
// float32 values keep their configured precision.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
