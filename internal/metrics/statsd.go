package metrics

import (
	"strconv"
	"strings"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"
)

// StatsD emits the counters and timers the CloudWatch agent's statsd
// listener expects: api.<id>.calls, api.<id>.response_time, db.query_time
// and s3.<op>.time.
type StatsD struct {
	client statsd.ClientInterface
	logger *zap.Logger
}

func NewStatsD(client statsd.ClientInterface, logger *zap.Logger) *StatsD {
	return &StatsD{client: client, logger: logger.Named("statsd")}
}

// DialStatsD opens a UDP client to addr. Client telemetry is off so only
// the service's own series reach the agent.
func DialStatsD(addr string, logger *zap.Logger) (*StatsD, error) {
	client, err := statsd.New(addr, statsd.WithoutTelemetry())
	if err != nil {
		return nil, err
	}
	return NewStatsD(client, logger), nil
}

var statsdReplacer = strings.NewReplacer(":", "_", "|", "_", "@", "_", " ", "_")

func (s *StatsD) Record(e Event) {
	name := statsdReplacer.Replace(e.Name)
	var err error
	switch e.Kind {
	case KindAPI:
		tags := []string{"status:" + strconv.Itoa(e.Status)}
		if err = s.client.Incr("api."+name+".calls", tags, 1); err == nil {
			err = s.client.Timing("api."+name+".response_time", e.Duration, tags, 1)
		}
	case KindDB:
		err = s.client.Timing("db.query_time", e.Duration, []string{"query_type:" + name}, 1)
	case KindBlob:
		err = s.client.Timing("s3."+name+".time", e.Duration, nil, 1)
	}
	if err != nil {
		s.logger.Debug("dropped statsd metric", zap.String("name", e.Name), zap.Error(err))
	}
}

func (s *StatsD) Close() error {
	return s.client.Close()
}
