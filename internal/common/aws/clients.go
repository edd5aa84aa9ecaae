// internal/common/aws/clients.go
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SESClient sends export notifications by e-mail.
type SESClient struct {
	client *ses.Client
}

func (s *SESClient) SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return s.client.SendEmail(ctx, input, optFns...)
}

// SNSClient publishes export events to a topic.
type SNSClient struct {
	client *sns.Client
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return s.client.Publish(ctx, input, optFns...)
}

// NotificationClients loads the shared AWS configuration once and builds the
// clients that are enabled. Disabled clients are nil.
func NotificationClients(ctx context.Context, region string, email, topic bool) (*SESClient, *SNSClient, error) {
	if !email && !topic {
		return nil, nil, nil
	}
	cfg, err := loadConfig(ctx, region)
	if err != nil {
		return nil, nil, err
	}

	var sesClient *SESClient
	var snsClient *SNSClient
	if email {
		sesClient = &SESClient{client: ses.NewFromConfig(cfg)}
	}
	if topic {
		snsClient = &SNSClient{client: sns.NewFromConfig(cfg)}
	}
	return sesClient, snsClient, nil
}

func loadConfig(ctx context.Context, region string) (awssdk.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awssdk.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		return awssdk.Config{}, fmt.Errorf("load aws config: no region configured")
	}
	return cfg, nil
}
