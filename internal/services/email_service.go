package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// TemplateID identifies a transactional mail template. Each ticket purpose
// has exactly one template.
type TemplateID string

const (
	TemplateVerifyEmail   TemplateID = "verify-email"
	TemplateResetPassword TemplateID = "reset-password"
	TemplateChangeEmail   TemplateID = "change-email"
	TemplateMagicLink     TemplateID = "magic-link"
)

// Mailer is the outbound mail collaborator. A failed Send fails the flow
// that requested it; dispatch is never fire-and-forget.
type Mailer interface {
	Send(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error
}

// AWSSESMailer sends templated mail using AWS SES
type AWSSESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESMailer creates a new AWS SES mailer
func NewAWSSESMailer(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// templatePath maps a template to the public path its ticket link points at.
func templatePath(template TemplateID) string {
	switch template {
	case TemplateVerifyEmail:
		return "/verify-email"
	case TemplateResetPassword:
		return "/reset-password"
	case TemplateChangeEmail:
		return "/confirm-email-change"
	case TemplateMagicLink:
		return "/signin/magic-link"
	default:
		return "/"
	}
}

func templateSubject(template TemplateID) string {
	switch template {
	case TemplateVerifyEmail:
		return "Verify your email address"
	case TemplateResetPassword:
		return "Reset your password"
	case TemplateChangeEmail:
		return "Confirm your new email address"
	case TemplateMagicLink:
		return "Your sign-in link"
	default:
		return "Notification"
	}
}

func templateIntro(template TemplateID) string {
	switch template {
	case TemplateVerifyEmail:
		return "Thank you for creating an account. To complete your registration, please verify your email address by clicking the link below:"
	case TemplateResetPassword:
		return "We received a request to reset your password. Click the link below to choose a new one:"
	case TemplateChangeEmail:
		return "We received a request to change the email address on your account. Click the link below to confirm:"
	case TemplateMagicLink:
		return "Click the link below to sign in. No password needed:"
	default:
		return ""
	}
}

// Send renders the template and dispatches it via SES. The ticket value from
// locals becomes a single-use link; the link authorizes exactly one state
// transition, so a leaked or prefetched link is spent on first use.
func (s *AWSSESMailer) Send(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error {
	link := fmt.Sprintf("%s%s?ticket=%s", s.baseURL, templatePath(template), locals["ticket"])
	intro := templateIntro(template)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>%s</h2>
    <p>%s</p>
    <p><a href="%s" style="display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px;">%s</a></p>
    <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
    <p>This link can be used once and will expire. If you didn't request it, you can ignore this email.</p>
  </div>
</body>
</html>
`, templateSubject(template), intro, link, templateSubject(template), link)

	textBody := fmt.Sprintf(`%s

%s

%s

This link can be used once and will expire. If you didn't request it, you can ignore this email.
`, templateSubject(template), intro, link)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(templateSubject(template)),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
		Tags: []types.MessageTag{
			{Name: aws.String("purpose"), Value: aws.String(string(template))},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("template", string(template)),
			slog.String("recipient", pkglogger.SanitizedEmail(recipient)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("template", string(template)),
		slog.String("recipient", pkglogger.SanitizedEmail(recipient)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
