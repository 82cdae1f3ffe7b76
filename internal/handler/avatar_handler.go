/*
Package handler provides the HTTP handlers and routing setup for the meditation community server.

This file contains the profile picture endpoints: clients upload avatars through
short-lived presigned URLs and exchange stored avatar keys for download URLs.
*/
package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/auth/jwt"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/errs"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/req"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/resp"
)

const (
	// MaxAvatarSize is the maximum allowed profile picture size in bytes.
	MaxAvatarSize = 2 * 1024 * 1024

	// presignedURLDuration is how long a presigned avatar URL stays valid.
	presignedURLDuration = 5 * time.Minute
)

// allowedAvatarMIMETypes defines the permitted MIME types for profile pictures.
var allowedAvatarMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// avatarExtToMIME maps file extensions to their corresponding MIME types.
var avatarExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type presignAvatarInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignAvatarUpload issues a presigned upload URL for a new profile
// picture. The object key is returned alongside the URL so the client can
// store it as its avatar reference.
func HandlePresignAvatarUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input presignAvatarInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.FileSize <= 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if input.FileSize > MaxAvatarSize {
			resp.RespondError(w, r, errs.NewError(errs.ErrAvatarTooLarge))
			return
		}

		if customErr := validateAvatarType(input.FileName, input.MimeType); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ext := strings.ToLower(filepath.Ext(input.FileName))
		key := fmt.Sprintf("avatars/%d/%s%s", identity.UserID, uuid.NewString(), ext)

		url, err := deps.Avatars.PresignUpload(r.Context(), key, input.MimeType, input.FileSize, presignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"uploadUrl": url,
			"key":       key,
		})
	}
}

// HandlePresignAvatarDownload exchanges a stored avatar key for a short-lived
// download URL.
func HandlePresignAvatarDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" || !strings.HasPrefix(key, "avatars/") || strings.Contains(key, "..") {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		url, err := deps.Avatars.PresignDownload(r.Context(), key, presignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"downloadUrl": url,
		})
	}
}

// validateAvatarType checks that the file name and MIME type agree and are allowed.
func validateAvatarType(fileName, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := allowedAvatarMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrAvatarTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expectedMIME, ok := avatarExtToMIME[ext]
	if !ok {
		return errs.NewError(errs.ErrAvatarTypeInvalid)
	}

	if expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrAvatarTypeInvalid)
	}

	return nil
}
