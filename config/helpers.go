package config

import (
	"time"

	"github.com/spf13/viper"
)

// lookup reads key with get when it is set and falls back to def otherwise.
func lookup[T any](v *viper.Viper, key string, def T, get func(string) T) T {
	if !v.IsSet(key) {
		return def
	}
	return get(key)
}

func getDurationOrDefault(v *viper.Viper, key string, def time.Duration) time.Duration {
	return lookup(v, key, def, v.GetDuration)
}

func getUint32OrDefault(v *viper.Viper, key string, def uint32) uint32 {
	return lookup(v, key, def, v.GetUint32)
}

func getIntOrDefault(v *viper.Viper, key string, def int) int {
	return lookup(v, key, def, v.GetInt)
}

func getInt64OrDefault(v *viper.Viper, key string, def int64) int64 {
	return lookup(v, key, def, v.GetInt64)
}

func getFloat64OrDefault(v *viper.Viper, key string, def float64) float64 {
	return lookup(v, key, def, v.GetFloat64)
}

func getStringOrDefault(v *viper.Viper, key string, def string) string {
	return lookup(v, key, def, v.GetString)
}

func getBoolOrDefault(v *viper.Viper, key string, def bool) bool {
	return lookup(v, key, def, v.GetBool)
}
