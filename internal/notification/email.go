package notification

import (
	"context"
	"fmt"
	"strings"

	"ecodeli-delivery/internal/events"
	"ecodeli-delivery/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// sesAPI is satisfied by *sesv2.Client.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier tells the client about delivery progress by email.
type EmailNotifier struct {
	ses  sesAPI
	from string
	log  *zap.Logger
}

func NewEmailNotifier(ses sesAPI, from string, log *zap.Logger) *EmailNotifier {
	return &EmailNotifier{ses: ses, from: from, log: log}
}

// compose returns subject and text body for the event.
func compose(ev events.DeliveryEvent) (string, string) {
	ref := ev.TrackingCode
	if ref == "" {
		ref = ev.DeliveryID
	}
	switch ev.Status {
	case models.StatusDelivered:
		return fmt.Sprintf("Your delivery %s has been delivered", ref),
			fmt.Sprintf("Good news: delivery %s was handed over and confirmed with your validation code at %s.",
				ref, ev.OccurredAt.Format("2006-01-02 15:04 MST"))
	case models.StatusPickedUp:
		return fmt.Sprintf("Your delivery %s has been picked up", ref),
			fmt.Sprintf("Your deliverer picked up delivery %s. Keep your 6-digit validation code ready for the handoff.", ref)
	case models.StatusInTransit:
		return fmt.Sprintf("Your delivery %s is on its way", ref),
			fmt.Sprintf("Delivery %s is in transit. Give your validation code to the deliverer only once you have the package.", ref)
	default:
		return fmt.Sprintf("Update on delivery %s", ref),
			fmt.Sprintf("Delivery %s is now %s.", ref, strings.ToLower(string(ev.Status)))
	}
}

// HandleEvent sends the email. Events without a client address are skipped.
func (n *EmailNotifier) HandleEvent(ctx context.Context, ev events.DeliveryEvent) error {
	if ev.ClientEmail == "" {
		n.log.Debug("no client email, skipping notification", zap.String("delivery_id", ev.DeliveryID))
		return nil
	}
	subject, body := compose(ev)
	_, err := n.ses.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{ev.ClientEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notification.HandleEvent: ses send: %w", err)
	}
	return nil
}
