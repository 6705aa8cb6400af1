package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
)

const sqsKeyAttribute = "key"

// SQSAPI is the subset of the SQS client the messaging driver uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type sqsClient struct {
	api         SQSAPI
	queueURL    string
	waitSeconds int32
	maxMessages int32
	logger      *zap.Logger
}

func newSQSClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Messaging.SQS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := NewSQSClient(sqs.NewFromConfig(awsCfg), cfg.Messaging.SQS, logger)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("sqs messaging ready", zap.String("queue", cfg.Messaging.SQS.QueueURL))
			return nil
		},
	})
	return client, nil
}

// NewSQSClient builds a Client on top of an SQS API implementation.
func NewSQSClient(api SQSAPI, cfg config.SQS, logger *zap.Logger) Client {
	batch := cfg.MaxMessages
	if batch <= 0 || batch > 10 {
		batch = 10
	}
	return &sqsClient{
		api:         api,
		queueURL:    cfg.QueueURL,
		waitSeconds: cfg.WaitTimeSeconds,
		maxMessages: batch,
		logger:      logger,
	}
}

func (s *sqsClient) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(value)),
	}

	attrs := make(map[string]sqstypes.MessageAttributeValue, len(headers)+1)
	if len(key) > 0 {
		attrs[sqsKeyAttribute] = stringAttribute(string(key))
	}
	for name, v := range headers {
		attrs[name] = stringAttribute(v)
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}

	if _, err := s.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *sqsClient) Consume(ctx context.Context, handler Handler) error {
	for {
		out, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(s.queueURL),
			MaxNumberOfMessages:   s.maxMessages,
			WaitTimeSeconds:       s.waitSeconds,
			MessageAttributeNames: []string{"All"},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			msg := fromSQS(m, s.queueURL)
			if err := handler(ctx, msg); err != nil {
				// left on the queue; visibility timeout drives redelivery
				s.logger.Error("message handler failed", zap.Error(err), zap.String("message_id", aws.ToString(m.MessageId)))
				continue
			}
			if _, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.queueURL),
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("sqs delete failed", zap.Error(err))
			}
		}
	}
}

func (s *sqsClient) Topic() string { return s.queueURL }

func fromSQS(m sqstypes.Message, queue string) Message {
	msg := Message{
		Topic: queue,
		Value: []byte(aws.ToString(m.Body)),
	}
	if ts, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			msg.Time = time.UnixMilli(ms)
		}
	}
	if len(m.MessageAttributes) > 0 {
		msg.Headers = make(map[string]string, len(m.MessageAttributes))
		for name, attr := range m.MessageAttributes {
			if name == sqsKeyAttribute {
				msg.Key = []byte(aws.ToString(attr.StringValue))
				continue
			}
			msg.Headers[name] = aws.ToString(attr.StringValue)
		}
	}
	return msg
}

func stringAttribute(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
