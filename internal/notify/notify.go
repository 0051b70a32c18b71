// Package notify delivers operational email: confirmation links and
// approved-payment notices. Delivery is asynchronous and failure
// tolerant; billing state never depends on it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetmaster/fleetmaster/internal/retry"
)

// Mailer sends one message. SMTPMailer is the production implementation.
type Mailer interface {
	Send(to, subject, body string) error
}

// Service formats and dispatches notifications in the background.
type Service struct {
	mailer     Mailer
	operator   string // operator inbox for payment notices
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewService(mailer Mailer, operatorEmail string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{mailer: mailer, operator: operatorEmail, logger: logger, retryDelay: 2 * time.Second}
}

// ConfirmationRequested mails the confirmation token to a new tenant.
func (s *Service) ConfirmationRequested(email, name, token string) {
	subject := "Confirma tu cuenta de FleetMaster"
	body := fmt.Sprintf(
		"<p>Hola %s,</p><p>Confirma tu cuenta con este código:</p><p><b>%s</b></p>",
		name, token,
	)
	s.dispatch(email, subject, body)
}

// PaymentApproved notifies the operator inbox of a settled payment.
func (s *Service) PaymentApproved(tenantID, reference, planName, duration string, amount int64) {
	if s.operator == "" {
		return
	}
	subject := fmt.Sprintf("Pago aprobado %s", reference)
	body := fmt.Sprintf(
		"<p>Pago aprobado.</p><ul><li>Referencia: %s</li><li>Cuenta: %s</li><li>Plan: %s (%s)</li><li>Valor: $%d COP</li></ul>",
		reference, tenantID, planName, duration, amount,
	)
	s.dispatch(s.operator, subject, body)
}

// dispatch sends in the background with a few retries. Errors are
// logged, never surfaced to the caller.
func (s *Service) dispatch(to, subject, body string) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := retry.Do(ctx, 3, s.retryDelay, func() error {
			return s.mailer.Send(to, subject, body)
		})
		if err != nil {
			s.logger.Error("email delivery failed", "to", to, "subject", subject, "error", err)
			return
		}
		s.logger.Info("email sent", "to", to, "subject", subject)
	}()
}
