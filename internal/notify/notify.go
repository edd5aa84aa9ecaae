// Package notify tells the requester and subscribed systems how an export
// ended: an SES e-mail to the requester and an SNS topic message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"inspection-export/internal/common/logger"
)

var ErrNotificationSend = errors.New("NOTIFICATION_SEND_FAILED")

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Config struct {
	EmailEnabled bool
	FromEmail    string
	TopicEnabled bool
	TopicARN     string
}

// Event describes a finished export.
type Event struct {
	ExportID     string
	ReportID     string
	Title        string
	Succeeded    bool
	ArtifactName string
	DownloadURL  string
	ErrorCode    string
	Warnings     []string
	Recipient    string
}

// Delivery reports which channels accepted the event.
type Delivery struct {
	EmailSent bool `json:"emailSent"`
	Published bool `json:"published"`
}

type Notifier struct {
	config Config
	ses    SESService
	sns    SNSService
	logger logger.Logger
}

func New(cfg Config, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{config: cfg, ses: sesClient, sns: snsClient, logger: log}
}

// Notify sends on every enabled channel. A failing channel does not stop
// the other; the returned error joins all failures.
func (n *Notifier) Notify(ctx context.Context, ev Event) (Delivery, error) {
	var d Delivery
	var errs []error

	if n.config.EmailEnabled && n.ses != nil && ev.Recipient != "" {
		if err := n.sendEmail(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%w: email: %v", ErrNotificationSend, err))
		} else {
			d.EmailSent = true
		}
	}

	if n.config.TopicEnabled && n.sns != nil && n.config.TopicARN != "" {
		if err := n.publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%w: topic: %v", ErrNotificationSend, err))
		} else {
			d.Published = true
		}
	}

	if len(errs) > 0 {
		n.logger.Warn("export notification incomplete", map[string]interface{}{
			"exportId": ev.ExportID,
			"error":    errors.Join(errs...).Error(),
		})
		return d, errors.Join(errs...)
	}
	return d, nil
}

func (n *Notifier) sendEmail(ctx context.Context, ev Event) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{ev.Recipient},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(Subject(ev)), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(Body(ev)), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(n.config.FromEmail),
	})
	return err
}

func (n *Notifier) publish(ctx context.Context, ev Event) error {
	status := "completed"
	if !ev.Succeeded {
		status = "failed"
	}
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Subject:  aws.String(Subject(ev)),
		Message:  aws.String(Body(ev)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"exportId": {DataType: aws.String("String"), StringValue: aws.String(ev.ExportID)},
			"reportId": {DataType: aws.String("String"), StringValue: aws.String(ev.ReportID)},
			"status":   {DataType: aws.String("String"), StringValue: aws.String(status)},
		},
	})
	return err
}

func Subject(ev Event) string {
	title := ev.Title
	if title == "" {
		title = ev.ReportID
	}
	if ev.Succeeded {
		return "Inspection report ready: " + title
	}
	return "Inspection report export failed: " + title
}

func Body(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\n", ev.ReportID)
	fmt.Fprintf(&b, "Export: %s\n", ev.ExportID)
	if ev.Succeeded {
		fmt.Fprintf(&b, "File: %s\n", ev.ArtifactName)
		if ev.DownloadURL != "" {
			fmt.Fprintf(&b, "Download: %s\n", ev.DownloadURL)
		}
	} else {
		fmt.Fprintf(&b, "Error: %s\n", ev.ErrorCode)
	}
	if len(ev.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range ev.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}
