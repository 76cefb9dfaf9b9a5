// Package config loads msst settings with Viper.
//
// Values come from a YAML, JSON or TOML file and can be overridden with
// MSST_-prefixed environment variables where dots become underscores
// (storage.secret -> MSST_STORAGE_SECRET).
//
//	app_name: msst
//	storage:
//	  provider: eos            # eos, s3, minio, synology, filesystem
//	  id: AKID
//	  secret: SECRET
//	  bucket: audio
//	  endpoint: https://eos-wuxi-1.cmecloud.cn
//	  region: wuxi1
//	  max_upload_size: 5368709120
//	  presign_ttl: 1h
//	msst:
//	  base_url: http://localhost:8000
//	  timeout: 5m
//	  breaker:
//	    enabled: true
//	workflow:
//	  poll_interval: 5s
//	  concurrency: 4
//	  cleanup: true
//	  download_dir: results
//	  callback_url: http://caller:8080/api/callback
//	  tracker: memory          # memory or redis
//	server:
//	  port: 8080
//	worker:
//	  max_workers: 4
//	  queue_size: 256
//	  task_timeout: 30m
//	redis:
//	  addr: localhost:6379
//	  job_ttl: 168h            # also bounds the memory tracker
//	  claim_ttl: 30m
//	logger:
//	  level: 4
//	  format: json
//	observes:
//	  sentry:
//	    endpoint: https://key@sentry.example.com/1
//	  tracer:
//	    endpoint: otel-collector:4317
//
// LoadConfig never touches package state; Watch rebuilds the config from the
// same file on every change.
package config
