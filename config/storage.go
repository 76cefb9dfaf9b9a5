package config

import (
	"time"

	"github.com/ncobase/msst/oss"
	"github.com/spf13/viper"
)

// Storage is the object store section.
type Storage struct {
	oss.Config
	MaxUploadSize int64         `json:"max_upload_size" yaml:"max_upload_size"`
	PresignTTL    time.Duration `json:"presign_ttl" yaml:"presign_ttl"`
}

// GatewayConfig returns the gateway policy settings.
func (s *Storage) GatewayConfig() oss.GatewayConfig {
	return oss.GatewayConfig{MaxUploadSize: s.MaxUploadSize, PresignTTL: s.PresignTTL}
}

// getStorageConfig get storage config
func getStorageConfig(v *viper.Viper) *Storage {
	return &Storage{
		Config: oss.Config{
			Provider: getStringOrDefault(v, "storage.provider", "eos"),
			ID:       v.GetString("storage.id"),
			Secret:   v.GetString("storage.secret"),
			Region:   v.GetString("storage.region"),
			Bucket:   v.GetString("storage.bucket"),
			Endpoint: v.GetString("storage.endpoint"),
		},
		MaxUploadSize: getInt64OrDefault(v, "storage.max_upload_size", oss.DefaultMaxUploadSize),
		PresignTTL:    getDurationOrDefault(v, "storage.presign_ttl", oss.DefaultPresignTTL),
	}
}
