package handler

import (
	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
	"github.com/Sebpessy/meditation-community-sub001/internal/app/storage"
	"github.com/Sebpessy/meditation-community-sub001/internal/configs"
)

// AppDeps bundles the collaborators shared by the HTTP handlers.
type AppDeps struct {
	Manager *session.Manager
	Config  *configs.AppConfig
	Avatars storage.AvatarStorage
}
