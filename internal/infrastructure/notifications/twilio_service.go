package notifications

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/you/accountportal/domain"
	"go.uber.org/zap"
)

// TwilioServiceImpl implements domain.NotificationService
type TwilioServiceImpl struct {
	client      *twilio.RestClient
	fromNumber  string
	countryCode string
	logger      *zap.Logger
}

// NewTwilioService creates a new Twilio notification service. Local mobile numbers are
// prefixed with countryCode before sending.
func NewTwilioService(accountSID, authToken, fromNumber, countryCode string, logger *zap.Logger) domain.NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioServiceImpl{
		client:      client,
		fromNumber:  fromNumber,
		countryCode: countryCode,
		logger:      logger,
	}
}

// SendSMS implements domain.NotificationService
func (t *TwilioServiceImpl) SendSMS(to, message string) error {
	to = t.E164(to)

	// If credentials are not configured, log instead of sending
	if t.fromNumber == "" {
		t.logger.Info("sms delivery disabled", zap.String("to", to), zap.Int("length", len(message)))
		return nil
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.fromNumber)
	params.SetBody(message)

	_, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	return nil
}

// E164 prefixes a bare local number with the configured country code
func (t *TwilioServiceImpl) E164(number string) string {
	if strings.HasPrefix(number, "+") || t.countryCode == "" {
		return number
	}
	return t.countryCode + number
}
