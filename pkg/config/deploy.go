package config

import (
	"path/filepath"
	"time"
)

// DeployConfig holds runtime configuration for the deploy server.
type DeployConfig struct {
	Addr            string
	Version         string
	LogLevel        string
	SourceDir       string
	SiteDir         string
	PublishDir      string
	APIKeyFile      string
	StatusFile      string
	LogFile         string
	BuildCommand    string
	BuildExecutor   string
	BuildImage      string
	DockerHost      string
	BuildTimeout    time.Duration
	SyncTimeout     time.Duration
	GitTimeout      time.Duration
	PushTimeout     time.Duration
	GitRemote       string
	GitBranch       string
	SyncExcludes    []string
	DeployRateLimit int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DatabaseURL     string
	HistoryLimit    int
	EventsEnabled   bool
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Build executors understood by the deploy server.
const (
	ExecutorHost   = "host"
	ExecutorDocker = "docker"
)

// LoadDeployConfig constructs a DeployConfig from environment variables.
func LoadDeployConfig() DeployConfig {
	source := absPath(GetString("JEKYLL_SOURCE", "."))
	cfg := DeployConfig{
		Addr:            GetString("DEPLOY_ADDR", "127.0.0.1:5000"),
		Version:         GetString("APP_VERSION", "1.0.0"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		SourceDir:       source,
		SiteDir:         absPath(GetString("JEKYLL_SITE", filepath.Join(source, "_site"))),
		PublishDir:      absPath(GetString("PAGES_REPO", filepath.Join(source, "..", "pages"))),
		APIKeyFile:      GetString("API_KEY_FILE", ".deploy_api_key"),
		StatusFile:      GetString("DEPLOY_STATUS_FILE", "deploy_status.json"),
		LogFile:         GetString("DEPLOY_LOG_FILE", "deploy.log"),
		BuildCommand:    GetString("BUILD_COMMAND", "bundle exec jekyll build"),
		BuildExecutor:   GetString("BUILD_EXECUTOR", ExecutorHost),
		BuildImage:      GetString("BUILD_IMAGE", "jekyll/jekyll:4.2.2"),
		DockerHost:      GetString("DOCKER_HOST", ""),
		BuildTimeout:    time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 120)) * time.Second,
		SyncTimeout:     time.Duration(GetInt("SYNC_TIMEOUT_SECONDS", 60)) * time.Second,
		GitTimeout:      time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 60)) * time.Second,
		PushTimeout:     time.Duration(GetInt("PUSH_TIMEOUT_SECONDS", 30)) * time.Second,
		GitRemote:       GetString("GIT_REMOTE", "origin"),
		GitBranch:       GetString("GIT_BRANCH", "main"),
		SyncExcludes:    GetList("SYNC_EXCLUDES", []string{"admin/"}),
		DeployRateLimit: GetInt("DEPLOY_RATE_LIMIT", 10),
		RedisAddr:       GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RedisPassword:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RedisDB:         GetInt("RATE_LIMIT_REDIS_DB", 0),
		DatabaseURL:     GetString("DATABASE_URL", ""),
		HistoryLimit:    GetInt("HISTORY_LIMIT", 50),
		EventsEnabled:   GetBool("EVENTS_ENABLED", true),
		CORSOrigins:     GetList("CORS_ALLOWED_ORIGINS", nil),
		ShutdownTimeout: time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
	return cfg
}

// ProtectedFiles lists the files the sync step must never delete or overwrite in
// the publish repository, in addition to SyncExcludes and the git metadata.
func (c DeployConfig) ProtectedFiles() []string {
	files := make([]string, 0, 3)
	for _, path := range []string{c.APIKeyFile, c.LogFile, c.StatusFile} {
		if path == "" {
			continue
		}
		files = append(files, filepath.Base(path))
	}
	return files
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
