package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"moff.io/wallet-sync/internal/databus"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

func (s *Clients) MultiTrySendMessageToSQS(ctx context.Context, queueUrl, message string, maxTry int) error {
	for i := 0; i < maxTry; i++ {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		_, err := s.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueUrl),
			MessageBody: aws.String(message),
		})
		if err != nil {
			log.Error(errors.WrapfAndReport(err, "send sqs message to %s", queueUrl))
			continue
		}
		return nil
	}
	return errors.ErrorfAndReport("send sqs message to %s max try exceeded", queueUrl)
}

func (s *Clients) SendMessageToSQS(ctx context.Context, queueUrl, message string) error {
	_, err := s.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueUrl),
		MessageBody: aws.String(message),
	})
	return errors.WrapfAndReport(err, "send sqs message to %s", queueUrl)
}

const sendTries = 3

// QueueSink forwards events to one SQS queue.
type QueueSink struct {
	clients  *Clients
	queueURL string
}

var _ databus.Sink = (*QueueSink)(nil)

func (s *Clients) QueueSink(queueURL string) *QueueSink {
	return &QueueSink{clients: s, queueURL: queueURL}
}

func (q *QueueSink) Name() string { return "sqs" }

func (q *QueueSink) Publish(ctx context.Context, e databus.Event) error {
	body := e.Serialize()
	if len(body) == 0 {
		return nil
	}
	return q.clients.MultiTrySendMessageToSQS(ctx, q.queueURL, string(body), sendTries)
}
