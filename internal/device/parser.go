package device

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// sentinelThreshold is the threshold above which counter values are treated
// as "blank" sentinel values (~1.8e19) and rejected.
const sentinelThreshold = 1e15

// Metric names exposed by the allocator stats endpoint. They mirror the
// accelerator allocator's own stat keys: peak active/reserved bytes within
// the current reset window, plus lifetime retry/OOM event counts.
const (
	metricActiveBytesPeak   = "alloc_active_bytes_peak"
	metricReservedBytesPeak = "alloc_reserved_bytes_peak"
	metricNumAllocRetries   = "alloc_num_retries"
	metricNumOOMs           = "alloc_num_ooms"
	metricCapacityBytes     = "device_capacity_bytes"
)

// allocLabels are the identity labels attached to allocator stat samples.
type allocLabels struct {
	device string
	name   string
	uuid   string
}

// parsedSample represents a single parsed Prometheus metric sample.
type parsedSample struct {
	name   string
	labels allocLabels
	value  float64
}

// DeviceReport holds one device's allocator counters and identity as parsed
// from a stats endpoint scrape.
type DeviceReport struct {
	Index         int
	Name          string
	UUID          string
	CapacityBytes int64
	Stats         PeakStats
}

// ParseAllocStats parses Prometheus exposition text from an allocator stats
// endpoint and returns per-device reports keyed by device index. Samples
// with sentinel values or without a device label are skipped.
func ParseAllocStats(data []byte) map[int]*DeviceReport {
	samples := parsePrometheusText(data)

	reports := make(map[int]*DeviceReport)
	for _, s := range samples {
		if s.labels.device == "" {
			continue
		}
		idx, err := strconv.Atoi(s.labels.device)
		if err != nil {
			continue
		}
		if isSentinel(s.value) {
			continue
		}

		r, ok := reports[idx]
		if !ok {
			r = &DeviceReport{Index: idx}
			reports[idx] = r
		}
		if r.Name == "" {
			r.Name = s.labels.name
		}
		if r.UUID == "" {
			r.UUID = s.labels.uuid
		}

		switch s.name {
		case metricActiveBytesPeak:
			r.Stats.ActiveBytesPeak = int64(s.value)
		case metricReservedBytesPeak:
			r.Stats.ReservedBytesPeak = int64(s.value)
		case metricNumAllocRetries:
			r.Stats.NumAllocRetries = int64(s.value)
		case metricNumOOMs:
			r.Stats.NumOOMs = int64(s.value)
		case metricCapacityBytes:
			r.CapacityBytes = int64(s.value)
		}
	}

	return reports
}

// isSentinel reports whether a value is an exporter "blank" sentinel.
func isSentinel(v float64) bool {
	return v >= sentinelThreshold
}

// parsePrometheusText parses Prometheus exposition text format line-by-line,
// extracting metric samples with their labels and values.
func parsePrometheusText(data []byte) []parsedSample {
	var samples []parsedSample
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		s, ok := parseSampleLine(line)
		if !ok {
			continue
		}
		samples = append(samples, s)
	}

	return samples
}

// parseSampleLine parses a single Prometheus metric line:
//
//	metric_name{label1="val1",label2="val2"} value [timestamp]
func parseSampleLine(line string) (parsedSample, bool) {
	var s parsedSample

	braceStart := strings.IndexByte(line, '{')
	if braceStart < 0 {
		// No labels: "name value"
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return s, false
		}
		s.name = parts[0]
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return s, false
		}
		s.value = v
		return s, true
	}

	s.name = line[:braceStart]

	braceEnd := strings.LastIndexByte(line, '}')
	if braceEnd <= braceStart {
		return s, false
	}

	s.labels = parseLabels(line[braceStart+1 : braceEnd])

	valueStr := strings.TrimSpace(line[braceEnd+1:])
	parts := strings.Fields(valueStr)
	if len(parts) == 0 {
		return s, false
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return s, false
	}
	s.value = v

	return s, true
}

// parseLabels parses the label portion of a Prometheus metric line:
//
//	label1="val1",label2="val2"
//
// It handles escaped characters within quoted label values.
func parseLabels(s string) allocLabels {
	var l allocLabels
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := s[:eq]
		s = s[eq+1:]

		if len(s) == 0 || s[0] != '"' {
			break
		}
		s = s[1:]

		// Read value until unescaped closing quote
		var val strings.Builder
		i := 0
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				switch s[i+1] {
				case '"':
					val.WriteByte('"')
				case '\\':
					val.WriteByte('\\')
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte(s[i+1])
				}
				i += 2
				continue
			}
			if s[i] == '"' {
				break
			}
			val.WriteByte(s[i])
			i++
		}
		if i >= len(s) {
			break
		}
		s = s[i+1:]

		switch key {
		case "device", "index":
			l.device = val.String()
		case "name", "modelName":
			l.name = val.String()
		case "uuid", "UUID":
			l.uuid = val.String()
		}

		// Skip the separating comma, if any.
		if len(s) > 0 && s[0] == ',' {
			s = s[1:]
		}
	}
	return l
}
