// Package metrics publishes operational counters for the upstream
// integration to CloudWatch and raises an SNS alert when the upstream
// account shows signs of a token conflict.
//
// Publishing is best-effort. A metrics outage is logged and otherwise
// ignored so observability never interferes with booking traffic.
package metrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"clinic-api/internal/common/logging"
)

// CloudWatchAPI is the slice of the CloudWatch client the publisher uses.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// SNSAPI is the slice of the SNS client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Counters is a snapshot of the in-process counters.
type Counters struct {
	TokenRefreshCount int64     `json:"tokenRefreshCount"`
	RequestCount      int64     `json:"requestCount"`
	ErrorCount        int64     `json:"errorCount"`
	LastRefresh       time.Time `json:"lastRefresh,omitempty"`
}

// Publisher accumulates counters and ships them to CloudWatch.
type Publisher struct {
	cloudwatch CloudWatchAPI
	sns        SNSAPI
	namespace  string
	topicARN   string
	logger     logging.Logger

	refreshCount int64
	requestCount int64
	errorCount   int64
	lastRefresh  atomic.Value // time.Time
}

// NewAWSClients builds the CloudWatch and SNS clients for the given region.
func NewAWSClients(ctx context.Context, region string) (*cloudwatch.Client, *sns.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cloudwatch.NewFromConfig(cfg), sns.NewFromConfig(cfg), nil
}

// NewPublisher creates a metrics publisher. Both clients may be nil, in
// which case counters still accumulate locally for the stats endpoint.
func NewPublisher(cw CloudWatchAPI, snsClient SNSAPI, namespace, topicARN string, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Publisher{
		cloudwatch: cw,
		sns:        snsClient,
		namespace:  namespace,
		topicARN:   topicARN,
		logger:     logger,
	}
}

// RecordRequest counts one guarded upstream request.
func (p *Publisher) RecordRequest(ctx context.Context) {
	atomic.AddInt64(&p.requestCount, 1)
	p.put(ctx, "RequestCount", 1)
}

// RecordError counts one terminal upstream failure.
func (p *Publisher) RecordError(ctx context.Context) {
	atomic.AddInt64(&p.errorCount, 1)
	p.put(ctx, "ErrorCount", 1)
}

// RecordTokenRefresh counts one token refresh.
func (p *Publisher) RecordTokenRefresh(ctx context.Context) {
	atomic.AddInt64(&p.refreshCount, 1)
	p.lastRefresh.Store(time.Now())
	p.put(ctx, "TokenRefreshCount", 1)
}

// AlertConflict notifies the operations topic that the upstream account is
// caught in a token conflict with another consumer.
func (p *Publisher) AlertConflict(ctx context.Context, refreshesInWindow int) {
	if p.sns == nil || p.topicARN == "" {
		return
	}

	message := fmt.Sprintf(
		"Clinic API token conflict detected: %d token refreshes inside the detection window. "+
			"Another system is likely sharing the upstream account.", refreshesInWindow)

	_, err := p.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Clinic API token conflict"),
		Message:  aws.String(message),
	})
	if err != nil {
		p.logger.Warn("conflict alert publish failed", logging.Err(err))
	}
}

// Snapshot returns the accumulated counters.
func (p *Publisher) Snapshot() Counters {
	counters := Counters{
		TokenRefreshCount: atomic.LoadInt64(&p.refreshCount),
		RequestCount:      atomic.LoadInt64(&p.requestCount),
		ErrorCount:        atomic.LoadInt64(&p.errorCount),
	}
	if last, ok := p.lastRefresh.Load().(time.Time); ok {
		counters.LastRefresh = last
	}
	return counters
}

// put ships a single counter datum to CloudWatch.
func (p *Publisher) put(ctx context.Context, name string, value float64) {
	if p.cloudwatch == nil {
		return
	}

	_, err := p.cloudwatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
	if err != nil {
		p.logger.Warn("metric publish failed", logging.String("metric", name), logging.Err(err))
	}
}
