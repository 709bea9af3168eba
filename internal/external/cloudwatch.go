package external

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes API request telemetry to CloudWatch. It
// implements core.MetricsCollector.
//
// Metrics emitted per request:
//   - RequestCount:   Dims {Method, Endpoint, Status}
//   - RequestLatency: Dims {Method, Endpoint}, milliseconds
//
// Publishing is asynchronous and best-effort: a metric that fails to ship
// is logged and dropped, never surfaced to the request path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing into the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest emits count and latency datapoints for one handled request.
// Runs the upload in a goroutine so the HTTP response is never delayed by
// CloudWatch.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("RequestCount"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Method"), Value: aws.String(method)},
					{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
					{Name: aws.String("Status"), Value: aws.String(status)},
				},
			},
			{
				MetricName: aws.String("RequestLatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Method"), Value: aws.String(method)},
					{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
				},
			},
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := m.client.PutMetricData(ctx, input); err != nil {
			m.logger.Error("failed to publish request metrics",
				"error", err,
				"endpoint", endpoint,
			)
		}
	}()
}
