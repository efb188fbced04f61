// Package config loads the recorder configuration from defaults, an optional
// TOML file, environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Modes.
const (
	ModeManual    = "manual"
	ModeAutomatic = "automatic"
	ModeFollowers = "followers"
)

type Config struct {
	// Target
	Mode      string        `toml:"mode"`
	Users     []string      `toml:"users"`
	URL       string        `toml:"url"`
	RoomID    string        `toml:"room_id"`
	OutputDir string        `toml:"output_dir"`
	Duration  time.Duration `toml:"duration"`

	// Polling
	AutomaticInterval  time.Duration `toml:"automatic_interval"`
	ConnectionCooldown time.Duration `toml:"connection_cooldown"`
	ErrorBackoff       time.Duration `toml:"error_backoff"`
	FollowerStagger    time.Duration `toml:"follower_stagger"`

	// Followers
	AliveChunkSize          int           `toml:"alive_chunk_size"`
	ResolveConcurrency      int           `toml:"resolve_concurrency"`
	ResolutionCacheTTL      time.Duration `toml:"resolution_cache_ttl"`
	MaxConcurrentRecordings int           `toml:"max_concurrent_recordings"`

	// Network
	ProxyURL          string        `toml:"proxy"`
	CookiesFile       string        `toml:"cookies_file"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	HTTPTimeout       time.Duration `toml:"http_timeout"`

	// Recorder
	Recorder   string `toml:"recorder"`
	FFmpegPath string `toml:"ffmpeg_path"`

	// Service
	HTTPAddr  string `toml:"http_addr"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Upload
	UploadTarget      string `toml:"upload_target"`
	DeleteAfterUpload bool   `toml:"delete_after_upload"`
	TelegramBotToken  string `toml:"telegram_bot_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	TelegramAPIURL    string `toml:"telegram_api_url"`
	YTClientID        string `toml:"yt_client_id"`
	YTClientSecret    string `toml:"yt_client_secret"`
	YTRefreshToken    string `toml:"yt_refresh_token"`
	YTPrivacy         string `toml:"yt_privacy"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3AccessKey       string `toml:"s3_access_key"`
	S3SecretKey       string `toml:"s3_secret_key"`
	S3Bucket          string `toml:"s3_bucket"`
	S3UseSSL          bool   `toml:"s3_use_ssl"`

	// Notifications
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	DesktopNotify     bool   `toml:"desktop_notify"`

	// Integrations
	DBDsn        string `toml:"db_dsn"`
	KafkaBrokers string `toml:"kafka_brokers"`
	KafkaTopic   string `toml:"kafka_topic"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Mode:               ModeManual,
		OutputDir:          ".",
		AutomaticInterval:  5 * time.Minute,
		ConnectionCooldown: 30 * time.Minute,
		ErrorBackoff:       5 * time.Second,
		FollowerStagger:    2500 * time.Millisecond,
		AliveChunkSize:     50,
		ResolveConcurrency: 8,
		CookiesFile:        "cookies.json",
		RequestsPerSecond:  4,
		HTTPTimeout:        10 * time.Second,
		Recorder:           "ffmpeg",
		FFmpegPath:         "ffmpeg",
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		LogFormat:          "text",
		YTPrivacy:          "private",
		S3Bucket:           "recordings",
		KafkaTopic:         "recording.events",
	}
}

// Load builds a Config from defaults, the TOML file named by CONFIG_FILE (if
// any) and the environment.
func Load() (*Config, error) {
	return load(os.Getenv("CONFIG_FILE"))
}

func load(file string) (*Config, error) {
	cfg := Defaults()
	if file != "" {
		if err := cfg.LoadFile(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a TOML file onto c.
// Durations are Go duration strings such as "5m".
func (c *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	// unit scales bare numbers; Go duration strings are accepted as-is.
	duration := func(key string, unit time.Duration, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v, unit)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("MODE", &c.Mode)
	if v := os.Getenv("TIKTOK_USER"); v != "" {
		c.Users = SplitList(v)
	}
	str("TIKTOK_URL", &c.URL)
	str("TIKTOK_ROOM_ID", &c.RoomID)
	str("OUTPUT_DIR", &c.OutputDir)
	duration("RECORD_DURATION", time.Second, &c.Duration)

	duration("AUTOMATIC_INTERVAL", time.Minute, &c.AutomaticInterval)
	duration("CONNECTION_COOLDOWN", time.Minute, &c.ConnectionCooldown)
	duration("ERROR_BACKOFF", time.Second, &c.ErrorBackoff)
	duration("FOLLOWER_START_STAGGER", time.Second, &c.FollowerStagger)

	integer("ALIVE_CHUNK_SIZE", &c.AliveChunkSize)
	integer("RESOLVE_CONCURRENCY", &c.ResolveConcurrency)
	duration("RESOLUTION_CACHE_TTL", time.Second, &c.ResolutionCacheTTL)
	integer("MAX_CONCURRENT_RECORDINGS", &c.MaxConcurrentRecordings)

	str("HTTP_PROXY_URL", &c.ProxyURL)
	str("COOKIES_FILE", &c.CookiesFile)
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid REQUESTS_PER_SECOND: %w", err))
		} else {
			c.RequestsPerSecond = f
		}
	}
	duration("HTTP_TIMEOUT", time.Second, &c.HTTPTimeout)

	str("RECORDER", &c.Recorder)
	str("FFMPEG_PATH", &c.FFmpegPath)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	str("UPLOAD_TARGET", &c.UploadTarget)
	boolean("DELETE_AFTER_UPLOAD", &c.DeleteAfterUpload)
	str("TELEGRAM_BOT_TOKEN", &c.TelegramBotToken)
	str("TELEGRAM_CHAT_ID", &c.TelegramChatID)
	str("TELEGRAM_API_URL", &c.TelegramAPIURL)
	str("YT_CLIENT_ID", &c.YTClientID)
	str("YT_CLIENT_SECRET", &c.YTClientSecret)
	str("YT_REFRESH_TOKEN", &c.YTRefreshToken)
	str("YT_PRIVACY", &c.YTPrivacy)
	str("S3_ENDPOINT", &c.S3Endpoint)
	str("S3_ACCESS_KEY", &c.S3AccessKey)
	str("S3_SECRET_KEY", &c.S3SecretKey)
	str("S3_BUCKET", &c.S3Bucket)
	boolean("S3_USE_SSL", &c.S3UseSSL)

	str("DISCORD_WEBHOOK_URL", &c.DiscordWebhookURL)
	boolean("DESKTOP_NOTIFY", &c.DesktopNotify)

	str("DB_DSN", &c.DBDsn)
	str("KAFKA_BROKERS", &c.KafkaBrokers)
	str("KAFKA_TOPIC", &c.KafkaTopic)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)

	return errors.Join(errs...)
}

// parseDuration accepts a Go duration string or a bare number of units.
func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(unit)), nil
	}
	return time.ParseDuration(v)
}

// SplitList splits a comma-separated list, dropping blanks and a leading '@'.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimPrefix(strings.TrimSpace(p), "@")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse loads the configuration and applies command-line flags on top.
// A -config flag takes precedence over CONFIG_FILE.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("tiktok-live-recorder", flag.ContinueOnError)
	var (
		file     = fs.String("config", "", "TOML config file (overrides CONFIG_FILE)")
		mode     = fs.String("mode", "", "manual, automatic or followers")
		user     = fs.String("user", "", "TikTok user, or a comma-separated list")
		liveURL  = fs.String("url", "", "TikTok live URL")
		room     = fs.String("room", "", "room id")
		output   = fs.String("output", "", "output directory")
		duration = fs.Int("duration", 0, "stop each recording after N seconds")
		interval = fs.Int("interval", 0, "automatic polling interval in minutes")
		proxy    = fs.String("proxy", "", "HTTP proxy URL")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *file
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "user":
			cfg.Users = SplitList(*user)
		case "url":
			cfg.URL = *liveURL
		case "room":
			cfg.RoomID = *room
		case "output":
			cfg.OutputDir = *output
		case "duration":
			cfg.Duration = time.Duration(*duration) * time.Second
		case "interval":
			cfg.AutomaticInterval = time.Duration(*interval) * time.Minute
		case "proxy":
			cfg.ProxyURL = *proxy
		}
	})
	return cfg, nil
}

// Validate checks that the mode has the targets it needs and that numeric
// settings are usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeManual:
		if len(c.Users) == 0 && c.URL == "" && c.RoomID == "" {
			errs = append(errs, errors.New("manual mode requires TIKTOK_USER, TIKTOK_URL or TIKTOK_ROOM_ID"))
		}
	case ModeAutomatic:
		if len(c.Users) == 0 && c.URL == "" {
			errs = append(errs, errors.New("automatic mode requires TIKTOK_USER or TIKTOK_URL"))
		}
	case ModeFollowers:
	default:
		errs = append(errs, fmt.Errorf("invalid MODE %q: want manual, automatic or followers", c.Mode))
	}
	if len(c.Users) > 1 && (c.URL != "" || c.RoomID != "") {
		errs = append(errs, errors.New("TIKTOK_URL and TIKTOK_ROOM_ID cannot be combined with multiple users"))
	}
	if c.Recorder != "ffmpeg" && c.Recorder != "http" {
		errs = append(errs, fmt.Errorf("invalid RECORDER %q: want ffmpeg or http", c.Recorder))
	}
	if c.Duration < 0 {
		errs = append(errs, errors.New("RECORD_DURATION must not be negative"))
	}
	if c.AutomaticInterval <= 0 {
		errs = append(errs, errors.New("AUTOMATIC_INTERVAL must be positive"))
	}
	if c.AliveChunkSize <= 0 {
		errs = append(errs, errors.New("ALIVE_CHUNK_SIZE must be positive"))
	}
	if c.ResolveConcurrency <= 0 {
		errs = append(errs, errors.New("RESOLVE_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

// LoadCookies reads a JSON object of cookie name to value. A missing file
// yields an empty map.
func LoadCookies(path string) (map[string]string, error) {
	cookies := map[string]string{}
	if path == "" {
		return cookies, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cookies, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	if err := json.Unmarshal(b, &cookies); err != nil {
		return nil, fmt.Errorf("parse cookies %s: %w", path, err)
	}
	return cookies, nil
}

// RequireSession checks that cookies carry a logged-in session, which the
// followers mode needs.
func RequireSession(cookies map[string]string) error {
	if cookies["sessionid"] == "" && cookies["sessionid_ss"] == "" {
		return errors.New("followers mode requires a sessionid cookie in COOKIES_FILE")
	}
	return nil
}
