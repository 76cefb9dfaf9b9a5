package config

import (
	"time"

	"github.com/ncobase/msst/concurrency/worker"
	"github.com/ncobase/msst/server"
	"github.com/ncobase/msst/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Server is the callback server section.
type Server = server.Config

// Worker is the delivery pool section.
type Worker = worker.Config

// Redis holds the shared tracker connection.
type Redis struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Username string        `json:"username" yaml:"username"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	JobTTL   time.Duration `json:"job_ttl" yaml:"job_ttl"`
	ClaimTTL time.Duration `json:"claim_ttl" yaml:"claim_ttl"`
}

// Client opens a go-redis client for the section.
func (r *Redis) Client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Username: r.Username,
		Password: r.Password,
		DB:       r.DB,
	})
}

// TrackerOptions returns the RedisTracker key settings.
func (r *Redis) TrackerOptions() workflow.RedisTrackerOptions {
	return workflow.RedisTrackerOptions{Prefix: r.Prefix, JobTTL: r.JobTTL, ClaimTTL: r.ClaimTTL}
}

// MemoryTrackerOptions applies the same lifetimes to the in-process tracker.
func (r *Redis) MemoryTrackerOptions() workflow.MemoryTrackerOptions {
	return workflow.MemoryTrackerOptions{JobTTL: r.JobTTL, ClaimTTL: r.ClaimTTL}
}

// getServerConfig get callback server config
func getServerConfig(v *viper.Viper) *Server {
	return &Server{
		Host:            v.GetString("server.host"),
		Port:            getIntOrDefault(v, "server.port", 8080),
		Mode:            getStringOrDefault(v, "server.mode", "release"),
		ShutdownTimeout: getDurationOrDefault(v, "server.shutdown_timeout", 30*time.Second),
	}
}

// getWorkerConfig get worker pool config
func getWorkerConfig(v *viper.Viper) *Worker {
	d := worker.DefaultConfig()
	return &Worker{
		MaxWorkers:  getIntOrDefault(v, "worker.max_workers", d.MaxWorkers),
		QueueSize:   getIntOrDefault(v, "worker.queue_size", d.QueueSize),
		TaskTimeout: getDurationOrDefault(v, "worker.task_timeout", d.TaskTimeout),
	}
}

// getRedisConfig get redis config
func getRedisConfig(v *viper.Viper) *Redis {
	return &Redis{
		Addr:     getStringOrDefault(v, "redis.addr", "localhost:6379"),
		Username: v.GetString("redis.username"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		Prefix:   getStringOrDefault(v, "redis.prefix", "msst"),
		JobTTL:   getDurationOrDefault(v, "redis.job_ttl", 7*24*time.Hour),
		ClaimTTL: getDurationOrDefault(v, "redis.claim_ttl", 30*time.Minute),
	}
}
