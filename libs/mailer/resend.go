package mailer

import (
	"context"
	"fmt"
	"sort"

	"github.com/resend/resend-go/v2"
)

// ResendProvider delivers through the Resend HTTP API.
type ResendProvider struct {
	client *resend.Client
}

func NewResendProvider(apiKey string) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (r *ResendProvider) Name() string {
	return "resend"
}

func (r *ResendProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	sent, err := r.client.Emails.SendWithContext(ctx, resendEmailRequest(msg))
	if err != nil {
		return SendResult{}, fmt.Errorf("resend send to %d recipient(s): %w", len(msg.To), err)
	}
	return SendResult{ProviderMessageID: sent.Id}, nil
}

// resendEmailRequest maps a message onto the Resend payload. Tags are sorted
// by name so repeated sends produce the same request.
func resendEmailRequest(msg Message) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if len(msg.Tags) == 0 {
		return req
	}

	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	req.Tags = make([]resend.Tag, 0, len(names))
	for _, name := range names {
		req.Tags = append(req.Tags, resend.Tag{Name: name, Value: msg.Tags[name]})
	}
	return req
}
