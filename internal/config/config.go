package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Speech SpeechConfig
	LLM    LLMConfig
	Agent  AgentConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// PublicBaseURL is the externally visible https base the provider signs
	// webhook URLs against.
	PublicBaseURL string

	// StreamURL is the wss endpoint the provider connects media streams to.
	StreamURL string
}

type SpeechConfig struct {
	APIKey   string
	Language string
	Voice    string

	// RecognizerURL is the streaming STT endpoint (wss://...).
	RecognizerURL string
	// SynthesizerURL is the TTS endpoint.
	SynthesizerURL string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string

	// FastModel serves latency-sensitive turns; SlowModel serves escalations.
	FastModel string
	SlowModel string

	RequestTimeout time.Duration
}

// AgentConfig tunes conversation orchestration.
type AgentConfig struct {
	// MaxRounds bounds model/tool iterations per turn.
	MaxRounds int

	// MaxRecognitionRetries bounds consecutive recognition failures before
	// the call is closed gracefully.
	MaxRecognitionRetries int

	// MaxConcurrentTurns caps model/tool work across all calls.
	MaxConcurrentTurns int

	// CallerMaxActive caps simultaneous calls per caller number; 0 disables
	// the cap.
	CallerMaxActive int

	SystemPrompt string

	// TransferTargets restricts where calls may be transferred; empty allows
	// any target.
	TransferTargets []string
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

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.Twilio.StreamURL = strings.TrimSpace(os.Getenv("TWILIO_STREAM_URL"))

	c.Speech.APIKey = os.Getenv("SPEECH_API_KEY")
	c.Speech.Language = strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE"))
	c.Speech.Voice = strings.TrimSpace(os.Getenv("SPEECH_VOICE"))
	c.Speech.RecognizerURL = strings.TrimSpace(os.Getenv("SPEECH_RECOGNIZER_URL"))
	c.Speech.SynthesizerURL = strings.TrimSpace(os.Getenv("SPEECH_SYNTHESIZER_URL"))

	c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	c.LLM.BaseURL = strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	c.LLM.FastModel = strings.TrimSpace(os.Getenv("LLM_FAST_MODEL"))
	c.LLM.SlowModel = strings.TrimSpace(os.Getenv("LLM_SLOW_MODEL"))
	c.LLM.RequestTimeout = mustDuration("LLM_REQUEST_TIMEOUT")

	c.Agent.MaxRounds = optionalInt("AGENT_MAX_ROUNDS")
	c.Agent.MaxRecognitionRetries = optionalInt("AGENT_MAX_RECOGNITION_RETRIES")
	c.Agent.MaxConcurrentTurns = optionalInt("AGENT_MAX_CONCURRENT_TURNS")
	c.Agent.CallerMaxActive = optionalInt("CALLER_MAX_ACTIVE")
	c.Agent.SystemPrompt = os.Getenv("AGENT_SYSTEM_PROMPT")
	if v := strings.TrimSpace(os.Getenv("AGENT_TRANSFER_TARGETS")); v != "" {
		for _, target := range strings.Split(v, ",") {
			if target = strings.TrimSpace(target); target != "" {
				c.Agent.TransferTargets = append(c.Agent.TransferTargets, target)
			}
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and applies environment-sensitive
// defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	}
	if c.Twilio.StreamURL != "" && !strings.HasPrefix(c.Twilio.StreamURL, "wss://") {
		errs = append(errs, fmt.Errorf("TWILIO_STREAM_URL must be a wss:// URL, got %q", c.Twilio.StreamURL))
	}

	if c.LLM.FastModel == "" {
		errs = append(errs, errors.New("LLM_FAST_MODEL is required"))
	}
	if c.LLM.SlowModel == "" {
		errs = append(errs, errors.New("LLM_SLOW_MODEL is required"))
	}
	if c.LLM.RequestTimeout <= 0 {
		c.LLM.RequestTimeout = 30 * time.Second
	}

	if c.Agent.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("AGENT_MAX_ROUNDS must not be negative, got %d", c.Agent.MaxRounds))
	}
	if c.Agent.MaxRecognitionRetries < 0 {
		errs = append(errs, fmt.Errorf("AGENT_MAX_RECOGNITION_RETRIES must not be negative, got %d", c.Agent.MaxRecognitionRetries))
	}
	if c.Agent.CallerMaxActive < 0 {
		errs = append(errs, fmt.Errorf("CALLER_MAX_ACTIVE must not be negative, got %d", c.Agent.CallerMaxActive))
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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

// optionalInt reads an integer env var, treating absence or garbage as zero
// so component defaults apply.
func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
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

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
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
