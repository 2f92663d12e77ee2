package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bot process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Bot    BotConfig
	Graph  GraphConfig
	Auth   AuthConfig
	Events EventsConfig
	Log    LogConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// BotConfig identifies the bot application registered with the platform.
// AppID/AppSecret/TenantID drive the client-credentials token flow;
// CallbackBaseURL is the public address the platform delivers notifications to.
type BotConfig struct {
	AppID           string
	AppSecret       string
	TenantID        string
	CallbackBaseURL string
}

type GraphConfig struct {
	// BaseURL is the Graph API root, e.g. https://graph.microsoft.com/v1.0
	BaseURL string
	// AuthorityBaseURL is the token authority root, e.g. https://login.microsoftonline.com
	AuthorityBaseURL string
	// JoinTimeout bounds the outbound call-creation request.
	JoinTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration

	// OperatorKey is the shared credential operators exchange for a bearer
	// token at the issuance endpoint.
	OperatorKey string
}

// EventsConfig controls the optional event sinks.
// Empty values disable the corresponding sink; the log sink is always on.
type EventsConfig struct {
	DatabaseURL  string
	RedisAddr    string
	RedisChannel string
}

type LogConfig struct {
	// File enables rotating file output when set; empty logs to stdout only.
	File string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Bot.AppID = strings.TrimSpace(os.Getenv("BOT_APP_ID"))
	c.Bot.AppSecret = os.Getenv("BOT_APP_SECRET")
	c.Bot.TenantID = strings.TrimSpace(os.Getenv("BOT_TENANT_ID"))
	c.Bot.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BOT_CALLBACK_BASE_URL")), "/")

	c.Graph.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GRAPH_BASE_URL")), "/")
	c.Graph.AuthorityBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GRAPH_AUTHORITY_BASE_URL")), "/")
	c.Graph.JoinTimeout = mustDuration("GRAPH_JOIN_TIMEOUT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.OperatorKey = os.Getenv("OPERATOR_KEY")

	c.Events.DatabaseURL = os.Getenv("DATABASE_URL")
	c.Events.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.Events.RedisChannel = strings.TrimSpace(os.Getenv("REDIS_EVENT_CHANNEL"))

	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if c.Graph.AuthorityBaseURL == "" {
		c.Graph.AuthorityBaseURL = "https://login.microsoftonline.com"
	}
	if c.Graph.JoinTimeout <= 0 {
		c.Graph.JoinTimeout = 30 * time.Second
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = "callevents"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	// The platform client can stay disabled outside production, but a partial
	// credential set is always a misconfiguration.
	if c.IsProduction() && !c.PlatformConfigured() {
		errs = append(errs, errors.New("BOT_APP_ID, BOT_APP_SECRET, BOT_TENANT_ID and BOT_CALLBACK_BASE_URL are required in production"))
	}
	if c.partialPlatformConfig() {
		errs = append(errs, errors.New("bot platform config is incomplete: set all of BOT_APP_ID, BOT_APP_SECRET, BOT_TENANT_ID, BOT_CALLBACK_BASE_URL or none"))
	}
	if c.Bot.CallbackBaseURL != "" {
		u, err := url.Parse(c.Bot.CallbackBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("BOT_CALLBACK_BASE_URL must be an absolute URL, got %q", c.Bot.CallbackBaseURL))
		} else if c.IsProduction() && u.Scheme != "https" {
			errs = append(errs, errors.New("BOT_CALLBACK_BASE_URL must use https in production"))
		}
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.OperatorKey == "" {
			errs = append(errs, errors.New("OPERATOR_KEY is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// PlatformConfigured reports whether the full credential set for the real
// Graph client is present.
func (c Config) PlatformConfigured() bool {
	return c.Bot.AppID != "" && c.Bot.AppSecret != "" && c.Bot.TenantID != "" && c.Bot.CallbackBaseURL != ""
}

// AuthConfigured reports whether operator endpoints should require a token.
func (c Config) AuthConfigured() bool {
	return c.Auth.JWTSecret != ""
}

func (c Config) partialPlatformConfig() bool {
	set := 0
	for _, v := range []string{c.Bot.AppID, c.Bot.AppSecret, c.Bot.TenantID, c.Bot.CallbackBaseURL} {
		if v != "" {
			set++
		}
	}
	return set > 0 && set < 4
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// NotificationCallbackURI is the address the platform must deliver call
// notifications to. Carried on every outbound call-creation request.
func (c Config) NotificationCallbackURI() string {
	if c.Bot.CallbackBaseURL == "" {
		return ""
	}
	return c.Bot.CallbackBaseURL + "/api/callback/notifications"
}

// TokenURL is the client-credentials token endpoint for the bot tenant.
func (c Config) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.Graph.AuthorityBaseURL, c.Bot.TenantID)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
