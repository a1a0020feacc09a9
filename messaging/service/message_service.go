package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/repository"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "campusconnect/backend/messaging/service"

var tracer = otel.Tracer(instrumentationName)

// Publisher pushes a stored message to the live delivery channel
type Publisher interface {
	Publish(ctx context.Context, message models.Message) error
}

// MessageServiceConfig holds the message rules
type MessageServiceConfig struct {
	MaxLength         int
	AllowSelfMessages bool
}

// MessageService is the authorization checked entry point to the message store
type MessageService struct {
	repo      repository.MessageRepository
	publisher Publisher
	breaker   *resilience.CircuitBreaker
	cfg       MessageServiceConfig
	log       *logger.Logger
	sent      metric.Int64Counter
}

// NewMessageService creates a message service. publisher may be nil, in
// which case messages are stored without live delivery.
func NewMessageService(repo repository.MessageRepository, publisher Publisher, breaker *resilience.CircuitBreaker, cfg MessageServiceConfig, log *logger.Logger) *MessageService {
	sent, err := otel.Meter(instrumentationName).Int64Counter(
		"messaging.messages.sent",
		metric.WithDescription("Messages persisted by the send path"),
	)
	if err != nil {
		log.LogError(err, "Failed to create messages counter")
	}

	return &MessageService{
		repo:      repo,
		publisher: publisher,
		breaker:   breaker,
		cfg:       cfg,
		log:       log,
		sent:      sent,
	}
}

// Insert stores a message on behalf of callerID, who must be the sender.
// Content is stored exactly as given; it only has to be non-blank.
func (s *MessageService) Insert(ctx context.Context, callerID, senderID, receiverID, content string) (*models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Insert")
	defer span.End()

	if callerID == "" || callerID != senderID {
		return nil, ErrAuthorization
	}
	if err := s.validate(senderID, receiverID, content); err != nil {
		return nil, err
	}

	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := s.repo.Create(ctx, message); err != nil {
		span.RecordError(err)
		return nil, transportError("insert message", err)
	}

	if s.sent != nil {
		s.sent.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int("message.id", int(message.ID)))

	return message, nil
}

func (s *MessageService) validate(senderID, receiverID, content string) error {
	if strings.TrimSpace(receiverID) == "" {
		return ErrMissingReceiver
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if s.cfg.MaxLength > 0 && utf8.RuneCountInString(content) > s.cfg.MaxLength {
		return ErrContentTooLong
	}
	if senderID == receiverID && !s.cfg.AllowSelfMessages {
		return ErrSelfMessage
	}
	return nil
}

// ListBetween returns the full history of a pair, oldest first. callerID must be one of the pair.
func (s *MessageService) ListBetween(ctx context.Context, callerID, userA, userB string) ([]models.Message, error) {
	return s.ListBetweenPaginated(ctx, callerID, userA, userB, 0, 0)
}

// ListBetweenPaginated is ListBetween restricted to a window. A non-positive limit returns everything.
func (s *MessageService) ListBetweenPaginated(ctx context.Context, callerID, userA, userB string, limit, offset int) ([]models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.ListBetween")
	defer span.End()

	if callerID == "" || (callerID != userA && callerID != userB) {
		return nil, ErrAuthorization
	}

	var (
		messages []models.Message
		err      error
	)
	if limit > 0 {
		messages, err = s.repo.ListBetweenPaginated(ctx, userA, userB, limit, offset)
	} else {
		messages, err = s.repo.ListBetween(ctx, userA, userB)
	}
	if err != nil {
		span.RecordError(err)
		return nil, transportError("list messages", err)
	}

	return messages, nil
}

// Send stores a message from currentUserID to counterpartID and hands it to
// the live delivery channel. Live delivery is best effort: a failed publish
// is logged and the stored message is still returned.
func (s *MessageService) Send(ctx context.Context, currentUserID, counterpartID, content string) (*models.Message, error) {
	message, err := s.Insert(ctx, currentUserID, currentUserID, counterpartID, content)
	if err != nil {
		return nil, err
	}

	if s.publisher == nil {
		return message, nil
	}

	publish := func(ctx context.Context) error {
		return s.publisher.Publish(ctx, *message)
	}
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		s.log.WithContext(ctx).Warn("Live delivery failed, message stored",
			"message_id", message.ID,
			"error", err.Error(),
		)
	}

	return message, nil
}
