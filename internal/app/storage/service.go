/*
Package storage provides presigned access to the object store holding profile pictures.

The chat subsystem only ever carries an avatar reference (an object key); clients
exchange that key for short-lived presigned URLs through the endpoints backed by
this service.
*/
package storage

import (
	"context"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// AvatarStorage defines the public interface for the profile picture store.
type AvatarStorage interface {
	// PresignUpload generates a pre-signed URL for uploading a profile picture.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// PresignDownload generates a pre-signed URL for fetching a profile picture.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)
}

// NewAvatarStorage is the factory function for AvatarStorage.
// Only S3-compatible implementations are currently supported.
func NewAvatarStorage(cfg ServiceConfig) (AvatarStorage, error) {
	return newS3Client(cfg)
}
