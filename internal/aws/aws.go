// Package aws holds the AWS clients: Parameter Store for secrets and SQS for
// state change notifications.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"moff.io/wallet-sync/pkg/errors"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Clients struct {
	region    string
	ssmClient ssmAPI
	sqsClient sqsAPI
}

// New loads the default credential chain for region.
func New(ctx context.Context, region string) (*Clients, error) {
	if region == "" {
		return nil, errors.New("aws region not present")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &Clients{
		region:    region,
		ssmClient: ssm.NewFromConfig(cfg),
		sqsClient: sqs.NewFromConfig(cfg),
	}, nil
}

func (s *Clients) GetParameterFromSSM(ctx context.Context, paramName string) (*ssmtypes.Parameter, error) {
	input := &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: true,
	}
	parameter, err := s.ssmClient.GetParameter(ctx, input)
	if err != nil {
		return nil, errors.WrapfAndReport(err, "query parameter %s from ssm", paramName)
	}
	return parameter.Parameter, nil
}

// GetParameterValue returns the decrypted value of paramName.
func (s *Clients) GetParameterValue(ctx context.Context, paramName string) (string, error) {
	p, err := s.GetParameterFromSSM(ctx, paramName)
	if err != nil {
		return "", err
	}
	if p == nil || p.Value == nil {
		return "", errors.Errorf("parameter %s has no value", paramName)
	}
	return *p.Value, nil
}
