// Package webhook receives user lifecycle events from the identity provider
// and mirrors them into the profiles table.
package webhook

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/service"
	"campusconnect/backend/pkg/errors"
	"campusconnect/backend/pkg/jwt"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"
)

// Identity provider event types
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// ProfileWriter persists mirrored profiles
type ProfileWriter interface {
	Upsert(ctx context.Context, profile *models.Profile) error
	Delete(ctx context.Context, userID string) error
}

// Event is the envelope of every identity webhook
type Event struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// UserData is the user object carried by user.* events
type UserData struct {
	ID             string `json:"id" validate:"required"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ImageURL       string `json:"image_url" validate:"omitempty,url"`
	PublicMetadata struct {
		Role string `json:"role" validate:"omitempty,oneof=student hod club_admin super_admin"`
	} `json:"public_metadata"`
}

// DeletedData is the payload of user.deleted
type DeletedData struct {
	ID string `json:"id" validate:"required"`
}

// Profile converts the user object into a stored profile
func (u UserData) Profile() *models.Profile {
	role := jwt.Role(u.PublicMetadata.Role)
	if !role.Valid() {
		role = jwt.RoleStudent
	}
	return &models.Profile{
		UserID:    u.ID,
		FullName:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		AvatarURL: u.ImageURL,
		Role:      string(role),
	}
}

// IdentityHandler verifies and applies identity provider webhooks
type IdentityHandler struct {
	verifier *svix.Webhook
	profiles ProfileWriter
	log      *logger.Logger
}

// NewIdentityHandler creates the handler. An empty secret is accepted so the
// server can start, but every delivery is then refused with a 500.
func NewIdentityHandler(secret string, profiles ProfileWriter, log *logger.Logger) (*IdentityHandler, error) {
	h := &IdentityHandler{profiles: profiles, log: log}
	if secret == "" {
		log.Warn("Identity webhook secret is not set, webhook deliveries will be rejected")
		return h, nil
	}

	verifier, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	h.verifier = verifier
	return h, nil
}

// Handle serves POST /webhooks/identity
func (h *IdentityHandler) Handle(c *gin.Context) {
	if h.verifier == nil {
		c.Error(errors.NewInternalServerError(errors.CodeInternal, "Server configuration error"))
		c.Abort()
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidWebhook, "Unable to read request body"))
		c.Abort()
		return
	}

	if err := h.verifier.Verify(payload, c.Request.Header); err != nil {
		logger.FromGin(c).Warn("Webhook signature verification failed", "error", err.Error())
		c.Error(errors.NewBadRequestError(errors.CodeInvalidWebhook, "Invalid signature"))
		c.Abort()
		return
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "Malformed event payload"))
		c.Abort()
		return
	}
	if err := validator.Struct(event); err != nil {
		c.Error(errors.BadRequestWithDetails(errors.CodeValidation, "Invalid event payload", validator.Details(err)))
		c.Abort()
		return
	}

	logger.FromGin(c).Info("Webhook event received", "type", event.Type, "svix_id", c.GetHeader("svix-id"))

	if err := h.apply(c.Request.Context(), event); err != nil {
		c.Error(toAppError(err))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *IdentityHandler) apply(ctx context.Context, event Event) error {
	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		var user UserData
		if err := decode(event.Data, &user); err != nil {
			return err
		}
		return h.profiles.Upsert(ctx, user.Profile())

	case EventUserDeleted:
		var deleted DeletedData
		if err := decode(event.Data, &deleted); err != nil {
			return err
		}
		h.log.WithContext(ctx).Info("Deleting profile", "user_id", deleted.ID)
		return h.profiles.Delete(ctx, deleted.ID)

	default:
		h.log.WithContext(ctx).Debug("Ignoring webhook event", "type", event.Type)
		return nil
	}
}

type payloadError struct {
	details []validator.FieldError
}

func (e *payloadError) Error() string { return "invalid event data" }

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &payloadError{}
	}
	if err := validator.Struct(v); err != nil {
		return &payloadError{details: validator.Details(err)}
	}
	return nil
}

func toAppError(err error) *errors.AppError {
	var perr *payloadError
	switch {
	case stderrors.As(err, &perr):
		return errors.BadRequestWithDetails(errors.CodeValidation, "Invalid event data", perr.details)
	case stderrors.Is(err, service.ErrTransport):
		return errors.NewServiceUnavailableError(errors.CodeTransport, "Profile store is temporarily unavailable")
	default:
		return errors.FromError(err)
	}
}
