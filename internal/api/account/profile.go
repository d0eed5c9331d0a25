package account

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/storage"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// DefaultMaxAvatarBytes bounds avatar uploads when storage.max_upload_mb is unset
const DefaultMaxAvatarBytes = 5 << 20

// ProfileStore is implemented by *repositories.UserRepository
type ProfileStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID, name string, image *string) error
	UpdateImage(ctx context.Context, userID, imageURL string) error
}

// ProfileHandlers handles /api/user endpoints
type ProfileHandlers struct {
	users          ProfileStore
	auth           AuthService
	storage        storage.Storage
	maxAvatarBytes int64
}

// NewProfileHandlers creates a new ProfileHandlers instance. A nil store disables avatar
// uploads.
func NewProfileHandlers(users ProfileStore, authService AuthService, store storage.Storage, maxAvatarBytes int64) *ProfileHandlers {
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = DefaultMaxAvatarBytes
	}
	return &ProfileHandlers{users: users, auth: authService, storage: store, maxAvatarBytes: maxAvatarBytes}
}

// UpdateProfileRequest is the body of PATCH /api/user/profile. Role is not accepted.
type UpdateProfileRequest struct {
	Name  *string `json:"name" binding:"omitempty,min=1,max=100"`
	Image *string `json:"image" binding:"omitempty,url,max=2048"`
}

// ChangePasswordRequest is the body of POST /api/user/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,max=72"`
	Password        string `json:"password" binding:"required,password"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,eqfield=Password"`
}

// @Summary      Get profile
// @Tags         User
// @Produce      json
// @Success      200  {object}  models.User
// @Router       /api/user/profile [get]
func (h *ProfileHandlers) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// @Summary      Update profile
// @Tags         User
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateProfileRequest  true  "Profile fields"
// @Success      200  {object}  models.User
// @Failure      400  {object}  map[string]interface{}  "Validation error, including an attempt to set role"
// @Router       /api/user/profile [patch]
func (h *ProfileHandlers) UpdateProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		var req UpdateProfileRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}

		name := user.Name
		if req.Name != nil {
			name = strings.TrimSpace(*req.Name)
		}
		image := user.Image
		if req.Image != nil {
			image = req.Image
		}
		if err := h.users.UpdateProfile(c.Request.Context(), user.ID, name, image); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		updated, err := h.users.GetUserByID(c.Request.Context(), user.ID)
		if err != nil || updated == nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": updated})
	}
}

// @Summary      Change password
// @Tags         User
// @Accept       json
// @Param        body  body  ChangePasswordRequest  true  "Current and new password"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Validation error or wrong current password"
// @Router       /api/user/change-password [post]
func (h *ProfileHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		var req ChangePasswordRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if err := h.auth.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.Password); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(middleware.AuditActionKey, "user.password_changed")
		c.Set(middleware.AuditResourceIDKey, user.ID)
		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	}
}

// @Summary      Upload avatar
// @Tags         User
// @Accept       multipart/form-data
// @Param        file  formData  file  true  "PNG, JPEG, GIF or WebP image"
// @Success      200  {object}  map[string]interface{}  "image: public URL"
// @Failure      400  {object}  map[string]interface{}  "Missing, oversized or unsupported file"
// @Router       /api/user/avatar [post]
func (h *ProfileHandlers) UploadAvatarHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			apperr.Respond(c, apperr.ErrUnauthorized)
			return
		}
		if h.storage == nil {
			apperr.Respond(c, apperr.New(apperr.KindUnavailable, "uploads are not configured"))
			return
		}

		// multipart overhead is small; the file itself is checked below
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAvatarBytes+64<<10)
		fh, err := c.FormFile("file")
		if err != nil {
			apperr.Respond(c, apperr.Validation(map[string]string{"file": "an image file is required"}))
			return
		}
		if fh.Size > h.maxAvatarBytes {
			apperr.Respond(c, apperr.Validation(map[string]string{"file": "file is too large"}))
			return
		}
		f, err := fh.Open()
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, h.maxAvatarBytes+1))
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if int64(len(data)) > h.maxAvatarBytes {
			apperr.Respond(c, apperr.Validation(map[string]string{"file": "file is too large"}))
			return
		}
		contentType, ext, err := storage.DetectImage(data)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedType) {
				apperr.Respond(c, apperr.Validation(map[string]string{"file": "must be a PNG, JPEG, GIF or WebP image"}))
				return
			}
			apperr.Respond(c, apperr.Internal(err))
			return
		}

		ctx := c.Request.Context()
		obj, err := h.storage.Put(ctx, storage.AvatarKey(user.ID, ext), bytes.NewReader(data), contentType)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if err := h.users.UpdateImage(ctx, user.ID, obj.URL); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if user.Image != nil {
			if key, ok := storage.KeyFromURL(h.storage, *user.Image); ok {
				if err := h.storage.Delete(ctx, key); err != nil {
					slog.Warn("failed to delete previous avatar", "user_id", user.ID, "key", key, "error", err)
				}
			}
		}

		c.Set(middleware.AuditActionKey, "user.avatar_updated")
		c.Set(middleware.AuditResourceIDKey, user.ID)
		c.JSON(http.StatusOK, gin.H{"image": obj.URL})
	}
}
