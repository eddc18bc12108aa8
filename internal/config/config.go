package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultStepTimeout = 2 * time.Minute

type Config struct {
	DataDir          string        `yaml:"-" validate:"required"`
	DBPath           string        `yaml:"-" validate:"required"`
	LockPath         string        `yaml:"-"`
	UserRecipeDir    string        `yaml:"-"`
	ProjectRecipeDir string        `yaml:"-"`
	LogLevel         string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	StepTimeout      time.Duration `yaml:"step_timeout" validate:"gt=0"`
	OTLPEndpoint     string        `yaml:"otlp_endpoint"`
	Planner          PlannerConfig `yaml:"planner"`
	Publish          PublishConfig `yaml:"publish"`
}

type PlannerConfig struct {
	Provider  string `yaml:"provider" validate:"omitempty,oneof=none openai ollama lua"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	LuaScript string `yaml:"lua_script"`
}

type PublishConfig struct {
	PostsRoot       string `yaml:"posts_root"`
	DefaultUserID   int64  `yaml:"default_user_id" validate:"gt=0"`
	DefaultUsername string `yaml:"default_username" validate:"required"`
	BlogBaseURL     string `yaml:"blog_base_url" validate:"required,url"`
	CDNBaseURL      string `yaml:"cdn_base_url" validate:"required,url"`
	ObjectStore     string `yaml:"object_store" validate:"oneof=fs s3"`
	Bucket          string `yaml:"bucket" validate:"required_if=ObjectStore s3"`
	Region          string `yaml:"region"`
	PostgresURL     string `yaml:"postgres_url"`
}

// New builds the configuration from defaults, then <data>/config.yaml when
// present, then environment overrides.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("QUILL_DATA_DIR", filepath.Join(homeDir, ".quill"))

	c := &Config{
		DataDir:          dataDir,
		DBPath:           filepath.Join(dataDir, "quill.db"),
		LockPath:         filepath.Join(dataDir, "quill.lock"),
		UserRecipeDir:    filepath.Join(dataDir, "recipes"),
		ProjectRecipeDir: ".quill/recipes",
		LogLevel:         "info",
		StepTimeout:      DefaultStepTimeout,
		Planner: PlannerConfig{
			Provider: "none",
		},
		Publish: PublishConfig{
			PostsRoot:       "./posts",
			DefaultUserID:   1,
			DefaultUsername: "admin",
			BlogBaseURL:     "http://localhost:3000",
			CDNBaseURL:      "http://localhost:3000/assets/posts",
			ObjectStore:     "fs",
		},
	}

	if err := c.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("QUILL_LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = getEnv("QUILL_OTLP_ENDPOINT", c.OTLPEndpoint)

	if v, ok := os.LookupEnv("QUILL_STEP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid QUILL_STEP_TIMEOUT %q: %w", v, err)
		}
		c.StepTimeout = d
	}

	c.Planner.Provider = getEnv("QUILL_LLM_PROVIDER", c.Planner.Provider)
	c.Planner.Model = getEnv("QUILL_LLM_MODEL", c.Planner.Model)
	c.Planner.BaseURL = getEnv("QUILL_LLM_BASE_URL", c.Planner.BaseURL)
	c.Planner.APIKey = getEnv("QUILL_LLM_API_KEY", c.Planner.APIKey)
	c.Planner.LuaScript = getEnv("QUILL_LUA_PLANNER", c.Planner.LuaScript)

	c.Publish.PostsRoot = getEnv("QUILL_POSTS_ROOT", c.Publish.PostsRoot)
	c.Publish.PostgresURL = getEnv("QUILL_POSTGRES_URL", c.Publish.PostgresURL)
	if bucket, ok := os.LookupEnv("QUILL_S3_BUCKET"); ok {
		c.Publish.Bucket = bucket
		c.Publish.ObjectStore = "s3"
	}
	c.Publish.Region = getEnv("QUILL_S3_REGION", c.Publish.Region)

	if v, ok := os.LookupEnv("QUILL_USER_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid QUILL_USER_ID %q: %w", v, err)
		}
		c.Publish.DefaultUserID = id
	}
	return nil
}

func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.UserRecipeDir, c.WorkspacesDir(), c.AssetsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// AssetsDir backs the filesystem object store.
func (c *Config) AssetsDir() string {
	return filepath.Join(c.DataDir, "assets")
}

// PublishDBPath is the sqlite database used for posts when no postgres URL
// is configured.
func (c *Config) PublishDBPath() string {
	return filepath.Join(c.DataDir, "posts.db")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
