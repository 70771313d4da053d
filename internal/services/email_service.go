package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESCodeSender delivers one-time codes through Amazon SES.
type SESCodeSender struct {
	client *ses.Client
	from   string
}

// NewSESCodeSender creates a CodeSender backed by SES. Credentials come from
// the default AWS chain (environment, shared config, instance role).
func NewSESCodeSender(ctx context.Context, region, fromAddress string) (*SESCodeSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESCodeSender{
		client: ses.NewFromConfig(cfg),
		from:   fromAddress,
	}, nil
}

// SendOTPCode emails a verification code. The message carries the code and
// its purpose only; it never includes links.
func (s *SESCodeSender) SendOTPCode(ctx context.Context, email, code string) error {
	subject := "Your verification code"
	body := fmt.Sprintf(
		"Your verification code is: %s\n\n"+
			"This code expires in a few minutes. If you did not request it, you can ignore this email.",
		code,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
