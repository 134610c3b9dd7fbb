package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

const (
	cloudWatchBatchSize  = 500
	cloudWatchBufferSize = 4096
	cloudWatchFlushEvery = 10 * time.Second
	cloudWatchPutTimeout = 5 * time.Second
)

// PutMetricDataAPI is the slice of the CloudWatch client this package uses.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch buffers datums and ships them in batches from a single
// goroutine. Record never blocks; when the buffer is full the datum is
// dropped.
type CloudWatch struct {
	client    PutMetricDataAPI
	namespace string
	logger    *zap.Logger

	datums     chan types.MetricDatum
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	flushEvery time.Duration
}

func NewCloudWatch(client PutMetricDataAPI, namespace string, logger *zap.Logger) *CloudWatch {
	return newCloudWatch(client, namespace, logger, cloudWatchFlushEvery)
}

func newCloudWatch(client PutMetricDataAPI, namespace string, logger *zap.Logger, flushEvery time.Duration) *CloudWatch {
	cw := &CloudWatch{
		client:     client,
		namespace:  namespace,
		logger:     logger.Named("cloudwatch"),
		datums:     make(chan types.MetricDatum, cloudWatchBufferSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		flushEvery: flushEvery,
	}
	go cw.loop()
	return cw
}

func (c *CloudWatch) Record(e Event) {
	now := time.Now()
	for _, d := range datumsFor(e, now) {
		select {
		case c.datums <- d:
		default:
			c.logger.Debug("cloudwatch buffer full, dropping datum", zap.String("metric", aws.ToString(d.MetricName)))
		}
	}
}

// Close stops the batcher after flushing what is already buffered.
func (c *CloudWatch) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CloudWatch) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()

	batch := make([]types.MetricDatum, 0, cloudWatchBatchSize)
	for {
		select {
		case d := <-c.datums:
			batch = append(batch, d)
			if len(batch) == cloudWatchBatchSize {
				batch = c.flush(batch)
			}
		case <-ticker.C:
			batch = c.flush(batch)
		case <-c.quit:
			for {
				select {
				case d := <-c.datums:
					batch = append(batch, d)
					if len(batch) == cloudWatchBatchSize {
						batch = c.flush(batch)
					}
				default:
					c.flush(batch)
					return
				}
			}
		}
	}
}

func (c *CloudWatch) flush(batch []types.MetricDatum) []types.MetricDatum {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), cloudWatchPutTimeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: append([]types.MetricDatum(nil), batch...),
	})
	if err != nil {
		c.logger.Warn("failed to put metric data", zap.Int("datums", len(batch)), zap.Error(err))
	}
	return batch[:0]
}

func datumsFor(e Event, now time.Time) []types.MetricDatum {
	ms := float64(e.Duration) / float64(time.Millisecond)
	switch e.Kind {
	case KindAPI:
		dims := []types.Dimension{
			{Name: aws.String("API"), Value: aws.String(e.Name)},
			{Name: aws.String("Status"), Value: aws.String(strconv.Itoa(e.Status))},
		}
		return []types.MetricDatum{
			{MetricName: aws.String("APICallCount"), Dimensions: dims, Unit: types.StandardUnitCount, Value: aws.Float64(1), Timestamp: aws.Time(now)},
			{MetricName: aws.String("APIResponseTime"), Dimensions: dims, Unit: types.StandardUnitMilliseconds, Value: aws.Float64(ms), Timestamp: aws.Time(now)},
		}
	case KindDB:
		return []types.MetricDatum{{
			MetricName: aws.String("DBQueryTime"),
			Dimensions: []types.Dimension{{Name: aws.String("QueryType"), Value: aws.String(e.Name)}},
			Unit:       types.StandardUnitMilliseconds,
			Value:      aws.Float64(ms),
			Timestamp:  aws.Time(now),
		}}
	case KindBlob:
		return []types.MetricDatum{{
			MetricName: aws.String("S3OperationTime"),
			Dimensions: []types.Dimension{{Name: aws.String("S3Operation"), Value: aws.String(e.Name)}},
			Unit:       types.StandardUnitMilliseconds,
			Value:      aws.Float64(ms),
			Timestamp:  aws.Time(now),
		}}
	}
	return nil
}
