package metrics

import (
	"fmt"
	"strings"
)

// ReaderKind selects where metrics are exported.
type ReaderKind string

const (
	PrometheusReader ReaderKind = "prometheus"
	OTLPReader       ReaderKind = "otlp"
)

// Reader configures one metric reader. Endpoint, Headers and Insecure
// apply to OTLP only.
type Reader struct {
	Kind     ReaderKind
	Endpoint string
	Headers  map[string]string
	Insecure bool
}

// OTLP holds the collector settings shared by every OTLP reader.
type OTLP struct {
	Endpoint string
	Headers  map[string]string
	Insecure bool
}

// ParseReaders maps configured reader names to readers. "customOtelCollector"
// is accepted as an alias of "otlp".
func ParseReaders(names []string, otlp OTLP) ([]Reader, error) {
	readers := make([]Reader, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case string(PrometheusReader):
			readers = append(readers, Reader{Kind: PrometheusReader})
		case string(OTLPReader), "customotelcollector":
			if otlp.Endpoint == "" {
				return nil, fmt.Errorf("metric reader %q needs an endpoint", name)
			}
			readers = append(readers, Reader{
				Kind:     OTLPReader,
				Endpoint: otlp.Endpoint,
				Headers:  otlp.Headers,
				Insecure: otlp.Insecure,
			})
		default:
			return nil, fmt.Errorf("unknown metric reader %q", name)
		}
	}
	return readers, nil
}

type settings struct {
	serviceName string
	readers     []Reader
	buckets     []float64
}

// Option configures NewMetricProvider.
type Option func(*settings)

func WithServiceName(name string) Option {
	return func(s *settings) { s.serviceName = name }
}

func WithReader(r Reader) Option {
	return func(s *settings) { s.readers = append(s.readers, r) }
}

// WithDurationBuckets sets the histogram boundaries used by every
// instrument whose name ends in "_seconds".
func WithDurationBuckets(bounds ...float64) Option {
	return func(s *settings) { s.buckets = bounds }
}

// DefaultDurationBuckets suit refresh runs, RPC reads and HTTP fetches.
var DefaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
