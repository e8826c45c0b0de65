// Package email is the SMTP delivery channel of the sequence engine.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/outreach-engine/internal/model"
	"github.com/jwalitptl/outreach-engine/internal/repository"
	"github.com/jwalitptl/outreach-engine/internal/tracking"
	"github.com/jwalitptl/outreach-engine/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
	"github.com/jwalitptl/outreach-engine/pkg/metrics"
)

// SendRequest is one message for one contact.
type SendRequest struct {
	ContactID      uuid.UUID
	OrganizationID uuid.UUID
	SequenceID     uuid.UUID
	EnrollmentID   uuid.UUID
	StepOrder      int
	ActorID        uuid.UUID
	Subject        string
	Body           string
	TrackOpens     bool
}

type SendResult struct {
	EmailID string
	SentAt  time.Time
}

// Dialer delivers composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	// RateLimit is messages per second; zero disables throttling.
	RateLimit float64
	Burst     int
}

// NewDialer returns the SMTP dialer for cfg.
func NewDialer(cfg Config) *gomail.Dialer {
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
}

type Channel struct {
	cfg        Config
	dialer     Dialer
	contacts   repository.ContactRepository
	activities repository.ActivityRepository
	tracker    *tracking.Tracker
	limiter    *rate.Limiter
	cb         *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Channel)

func WithTracker(t *tracking.Tracker) Option {
	return func(c *Channel) { c.tracker = t }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

func NewChannel(cfg Config, dialer Dialer, contacts repository.ContactRepository, activities repository.ActivityRepository, opts ...Option) *Channel {
	c := &Channel{
		cfg:        cfg,
		dialer:     dialer,
		contacts:   contacts,
		activities: activities,
		logger:     logger.Nop(),
		now:        time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name, from, to string) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
	return c
}

// Send re-checks that the contact may be emailed, delivers the message and
// records an EMAIL_SENT activity carrying the new email id.
func (c *Channel) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	contact, err := c.contacts.Get(ctx, req.ContactID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrContactIneligible, errors.New(model.ReasonContactDeleted))
		}
		return nil, apperrors.Wrap(apperrors.ErrEmailSendFailed, err)
	}
	if reason := contact.IneligibleReason(); reason != "" {
		return nil, apperrors.Wrap(apperrors.ErrContactIneligible, errors.New(reason))
	}
	if err := checkmail.ValidateFormat(contact.Email); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrContactIneligible, fmt.Errorf("invalid address %q: %w", contact.Email, err))
	}

	emailID := uuid.NewString()
	subject := interpolate(req.Subject, contact)
	body := c.tracker.Inject(interpolate(req.Body, contact), contact.ID, emailID, req.TrackOpens)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrEmailSendFailed, err)
		}
	}

	m := c.compose(contact, emailID, subject, body)
	if err := c.cb.Execute(func() error { return c.dialer.DialAndSend(m) }); err != nil {
		c.metrics.DeliveryFailed()
		return nil, apperrors.Wrap(apperrors.ErrEmailSendFailed, err)
	}

	sentAt := c.now().UTC()
	activity := &model.ContactActivity{
		ContactID:   contact.ID,
		Type:        model.ActivityEmailSent,
		Description: fmt.Sprintf("Email sent: %s", subject),
		Metadata: model.JSONMap{
			model.MetaEmailID:      emailID,
			model.MetaSequenceID:   req.SequenceID.String(),
			model.MetaEnrollmentID: req.EnrollmentID.String(),
			model.MetaStepOrder:    req.StepOrder,
			model.MetaSubject:      subject,
			model.MetaActorID:      req.ActorID.String(),
		},
		CreatedAt: sentAt,
	}
	if err := c.activities.Append(ctx, activity); err != nil {
		// The message is already out; failing here would send it again.
		c.logger.Error(err, "failed to record sent email",
			"contact_id", contact.ID.String(),
			"email_id", emailID)
	}

	c.logger.Debug("email sent",
		"contact_id", contact.ID.String(),
		"enrollment_id", req.EnrollmentID.String(),
		"email_id", emailID)

	return &SendResult{EmailID: emailID, SentAt: sentAt}, nil
}

func (c *Channel) compose(contact *model.Contact, emailID, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	if c.cfg.FromName != "" {
		m.SetAddressHeader("From", c.cfg.FromEmail, c.cfg.FromName)
	} else {
		m.SetHeader("From", c.cfg.FromEmail)
	}
	if name := contact.FullName(); name != "" {
		m.SetAddressHeader("To", contact.Email, name)
	} else {
		m.SetHeader("To", contact.Email)
	}
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", emailID, senderDomain(c.cfg.FromEmail)))
	m.SetHeader("X-Outreach-Email-ID", emailID)
	m.SetBody("text/html", body)
	return m
}

func senderDomain(from string) string {
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}

// interpolate fills the merge variables templates may use.
func interpolate(s string, c *model.Contact) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return strings.NewReplacer(
		"{{first_name}}", c.FirstName,
		"{{last_name}}", c.LastName,
		"{{full_name}}", c.FullName(),
		"{{company}}", c.Company,
		"{{title}}", c.Title,
		"{{email}}", c.Email,
	).Replace(s)
}
