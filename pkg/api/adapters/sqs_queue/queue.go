package sqs_queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/eser/ajan/logfx"
)

// Queue is the write side of the usage-record queue. The service only ever
// publishes; the billing pipeline consumes from its own side.
type Queue struct {
	Config *Config

	logger *logfx.Logger
	client *sqs.Client
}

func New(config *Config, logger *logfx.Logger) *Queue {
	return &Queue{Config: config, logger: logger}
}

func (q *Queue) Init(ctx context.Context) (*string, error) {
	var cfgOptions []func(*config.LoadOptions) error
	var sqsClientOptions []func(*sqs.Options)

	if q.Config.ConnectionEndpoint != "" {
		customResolver := NewEndpointResolver(q.Config.ConnectionEndpoint)
		sqsClientOptions = append(sqsClientOptions, sqs.WithEndpointResolverV2(customResolver))
	}

	if q.Config.ConnectionProfile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(q.Config.ConnectionProfile))
	}

	if q.Config.ConnectionRegion != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(q.Config.ConnectionRegion))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		q.logger.ErrorContext(ctx, "[SqsQueue] unable to load SDK config", "module", "sqs_queue", "error", err)

		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	q.client = sqs.NewFromConfig(cfg, sqsClientOptions...)

	usageQueueURL, err := q.CreateQueueIfNotExists(ctx, q.Config.UsageQueueName)
	if err != nil {
		q.logger.ErrorContext(ctx, "[SqsQueue] Failed to ensure SQS queue exists during init", "module", "sqs_queue", "queueName", q.Config.UsageQueueName, "error", err)

		return nil, fmt.Errorf("failed to ensure SQS queue %s exists: %w", q.Config.UsageQueueName, err)
	}

	q.logger.InfoContext(ctx, "[SqsQueue] SQS Queue initialized", "module", "sqs_queue", "region", q.Config.ConnectionRegion, "endpoint", q.Config.ConnectionEndpoint, "usageQueueURL", *usageQueueURL)

	return usageQueueURL, nil
}

func (q *Queue) GetQueueURL(ctx context.Context, queueName string) (*string, error) {
	q.logger.DebugContext(ctx, "[SqsQueue] GetQueueURL is trying to get queue url", "module", "sqs_queue", "queueName", queueName)
	queueURLOut, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})

	if err != nil {
		if strings.HasSuffix(err.Error(), "AWS.SimpleQueueService.NonExistentQueue: The specified queue does not exist.") {
			return nil, nil
		}

		return nil, err
	}

	return queueURLOut.QueueUrl, nil
}

func (q *Queue) CreateQueue(ctx context.Context, queueName string) (*string, error) {
	q.logger.DebugContext(ctx, "[SqsQueue] CreateQueue is trying to create queue", "module", "sqs_queue", "queueName", queueName)

	createOut, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return nil, err
	}

	q.logger.InfoContext(ctx, "[SqsQueue] Queue created", "module", "sqs_queue", "queueUrl", *createOut.QueueUrl)
	return createOut.QueueUrl, nil
}

func (q *Queue) CreateQueueIfNotExists(ctx context.Context, queueName string) (*string, error) {
	q.logger.DebugContext(ctx, "[SqsQueue] CreateQueueIfNotExists is trying to get queue url to find out if queue exists", "module", "sqs_queue", "queueName", queueName)
	queueURL, err := q.GetQueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	if queueURL == nil {
		q.logger.DebugContext(ctx, "[SqsQueue] CreateQueueIfNotExists couldn't find queue, creating", "module", "sqs_queue", "queueName", queueName)
		return q.CreateQueue(ctx, queueName)
	}

	return queueURL, nil
}

func (q *Queue) SendMessage(ctx context.Context, queueURL string, message string) error {
	q.logger.DebugContext(ctx, "[SqsQueue] SendMessage is trying to send message", "module", "sqs_queue", "queueURL", queueURL)
	sendMessageInput := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(message),
	}

	sendOut, err := q.client.SendMessage(ctx, sendMessageInput)
	if err != nil {
		return err
	}

	q.logger.DebugContext(ctx, "[SqsQueue] Message sent", "module", "sqs_queue", "messageId", *sendOut.MessageId)
	return nil
}
