// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SubjectMatchMode selects how the OTP retriever compares message subjects.
type SubjectMatchMode string

const (
	SubjectExact     SubjectMatchMode = "exact"
	SubjectRegex     SubjectMatchMode = "regex"
	SubjectSubstring SubjectMatchMode = "substring"
)

// Config holds the entire application configuration. It is constructed once
// at startup, validated, and passed by reference into every component. No
// component mutates it after construction.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Pools    PoolsConfig    `mapstructure:"pools" yaml:"pools"`
	State    StateConfig    `mapstructure:"state" yaml:"state"`
	OTP      OTPConfig      `mapstructure:"otp" yaml:"otp"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Login    LoginConfig    `mapstructure:"login" yaml:"login"`
	Humanoid HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig describes the already-running browser we attach to. The
// orchestrator never launches its own browser process; it connects to the
// debugging endpoint of an existing one.
type BrowserConfig struct {
	CDPURL            string        `mapstructure:"cdp_url" yaml:"cdp_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PoolsConfig locates the consumable identity queue and the claim-target pool.
type PoolsConfig struct {
	EmailsFile       string `mapstructure:"emails_file" yaml:"emails_file"`
	LinksFile        string `mapstructure:"links_file" yaml:"links_file"`
	FallbackClaimURL string `mapstructure:"fallback_claim_url" yaml:"fallback_claim_url"`
}

// StateConfig locates the persisted browser storage snapshot.
type StateConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// OTPConfig drives the out-of-band code retriever. The required fields are
// enforced at startup; a missing field is a configuration error, never a
// runtime fallback.
type OTPConfig struct {
	InboxAccount    string           `mapstructure:"inbox_account" yaml:"inbox_account"`
	CredentialsFile string           `mapstructure:"credentials_file" yaml:"credentials_file"`
	SearchQuery     string           `mapstructure:"search_query" yaml:"search_query"`
	SubjectMode     SubjectMatchMode `mapstructure:"subject_match_mode" yaml:"subject_match_mode"`
	SubjectExact    string           `mapstructure:"subject_exact" yaml:"subject_exact"`
	SubjectRegex    string           `mapstructure:"subject_regex" yaml:"subject_regex"`
	CodeRegex       string           `mapstructure:"code_regex" yaml:"code_regex"`
	UnreadOnly      bool             `mapstructure:"unread_only" yaml:"unread_only"`
	NewestOnly      bool             `mapstructure:"newest_only" yaml:"newest_only"`
	MarkReadAfter   bool             `mapstructure:"mark_read_after" yaml:"mark_read_after"`
	Timeout         time.Duration    `mapstructure:"timeout" yaml:"timeout"`
	PollInterval    time.Duration    `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PipelineConfig carries the fixed URLs, selector candidate lists, and pacing
// ranges the step pipeline runs against.
type PipelineConfig struct {
	StepDelayMin     time.Duration `mapstructure:"step_delay_min" yaml:"step_delay_min"`
	StepDelayMax     time.Duration `mapstructure:"step_delay_max" yaml:"step_delay_max"`
	ClaimSelectors   []string      `mapstructure:"claim_selectors" yaml:"claim_selectors"`
	ClaimTexts       []string      `mapstructure:"claim_texts" yaml:"claim_texts"`
	ClaimWaitTimeout time.Duration `mapstructure:"claim_wait_timeout" yaml:"claim_wait_timeout"`
	EmailSelectors   []string      `mapstructure:"email_selectors" yaml:"email_selectors"`
	SubmitSelectors  []string      `mapstructure:"submit_selectors" yaml:"submit_selectors"`
	OTPSelectors     []string      `mapstructure:"otp_selectors" yaml:"otp_selectors"`
	SearchSelectors  []string      `mapstructure:"search_selectors" yaml:"search_selectors"`
	FieldWaitTimeout time.Duration `mapstructure:"field_wait_timeout" yaml:"field_wait_timeout"`
	FinalURL         string        `mapstructure:"final_url" yaml:"final_url"`
	FinalText        string        `mapstructure:"final_text" yaml:"final_text"`
	HomeURL          string        `mapstructure:"home_url" yaml:"home_url"`
	SearchTexts      []string      `mapstructure:"search_texts" yaml:"search_texts"`
	SearchCount      int           `mapstructure:"search_count" yaml:"search_count"`
	SearchGap        time.Duration `mapstructure:"search_gap" yaml:"search_gap"`
	PostScript       string        `mapstructure:"post_script" yaml:"post_script"`
	RunPostScript    bool          `mapstructure:"run_post_script" yaml:"run_post_script"`
	RunRelogin       bool          `mapstructure:"run_relogin" yaml:"run_relogin"`
}

// LoginConfig holds the static credentials and selector lists for the
// logout/re-login tail of the pipeline.
type LoginConfig struct {
	Username          string   `mapstructure:"username" yaml:"username"`
	Password          string   `mapstructure:"password" yaml:"-"`
	LoginURLs         []string `mapstructure:"login_urls" yaml:"login_urls"`
	LogoutTriggers    []string `mapstructure:"logout_triggers" yaml:"logout_triggers"`
	MenuSelectors     []string `mapstructure:"menu_selectors" yaml:"menu_selectors"`
	UsernameSelectors []string `mapstructure:"username_selectors" yaml:"username_selectors"`
	PasswordSelectors []string `mapstructure:"password_selectors" yaml:"password_selectors"`
	SubmitSelectors   []string `mapstructure:"submit_selectors" yaml:"submit_selectors"`
}

// HumanoidConfig tunes the human-like interaction primitives.
type HumanoidConfig struct {
	MoveStepsMin  int           `mapstructure:"move_steps_min" yaml:"move_steps_min"`
	MoveStepsMax  int           `mapstructure:"move_steps_max" yaml:"move_steps_max"`
	JitterX       float64       `mapstructure:"jitter_x" yaml:"jitter_x"`
	JitterY       float64       `mapstructure:"jitter_y" yaml:"jitter_y"`
	ClickPauseMin time.Duration `mapstructure:"click_pause_min" yaml:"click_pause_min"`
	ClickPauseMax time.Duration `mapstructure:"click_pause_max" yaml:"click_pause_max"`
	KeyDelayMin   time.Duration `mapstructure:"key_delay_min" yaml:"key_delay_min"`
	KeyDelayMax   time.Duration `mapstructure:"key_delay_max" yaml:"key_delay_max"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "claimpilot")
	v.SetDefault("logger.log_file", "claimpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.cdp_url", "http://localhost:9222")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "1500ms")

	// -- Pools --
	v.SetDefault("pools.emails_file", "emails.txt")
	v.SetDefault("pools.links_file", "registration_links.txt")
	v.SetDefault("pools.fallback_claim_url", "https://www.perplexity.ai/browser/claim-invite")

	// -- State --
	v.SetDefault("state.file", "state/comet_welcome_state.json")

	// -- OTP --
	v.SetDefault("otp.credentials_file", "credentials.json")
	v.SetDefault("otp.subject_match_mode", "exact")
	v.SetDefault("otp.subject_exact", "Sign in to Perplexity")
	v.SetDefault("otp.unread_only", true)
	v.SetDefault("otp.newest_only", true)
	v.SetDefault("otp.mark_read_after", false)
	v.SetDefault("otp.timeout", "120s")
	v.SetDefault("otp.poll_interval", "5s")

	// -- Pipeline --
	v.SetDefault("pipeline.step_delay_min", "3s")
	v.SetDefault("pipeline.step_delay_max", "8s")
	v.SetDefault("pipeline.claim_selectors", []string{
		"button[data-testid*='claim']", "a[href*='claim-invite']", "button[aria-label*='claim']",
	})
	v.SetDefault("pipeline.claim_texts", []string{"claim invitation", "claim", "get invite", "nhận lời mời"})
	v.SetDefault("pipeline.claim_wait_timeout", "20s")
	v.SetDefault("pipeline.email_selectors", []string{
		"input[type='email']", "input[name='email']", "input[autocomplete='email']",
	})
	v.SetDefault("pipeline.submit_selectors", []string{
		"button[type='submit']", "input[type='submit']", "[role='button']",
	})
	v.SetDefault("pipeline.otp_selectors", []string{
		"input[name='otp']", "input[type='tel']", "input[autocomplete='one-time-code']", "input[data-otp]",
	})
	v.SetDefault("pipeline.search_selectors", []string{
		"input[type='search']", "input[name='q']", "input[placeholder*='Search']",
		"textarea[placeholder*='Search']", "input[aria-label*='Search']", "[role='search'] input", "input",
	})
	v.SetDefault("pipeline.field_wait_timeout", "15s")
	v.SetDefault("pipeline.final_url", "https://example.com/final")
	v.SetDefault("pipeline.final_text", "hello from automation")
	v.SetDefault("pipeline.home_url", "https://www.perplexity.ai/b/home")
	v.SetDefault("pipeline.search_texts", []string{
		"ai tools list", "how to use perplexity", "best ai image generator", "how to get invite",
		"perplexity ai review", "top ai browsers", "tìm kiếm mẫu tiếng việt", "tin tức ai hôm nay",
	})
	v.SetDefault("pipeline.search_count", 3)
	v.SetDefault("pipeline.search_gap", "5s")
	v.SetDefault("pipeline.post_script", "display.bat")
	v.SetDefault("pipeline.run_post_script", true)
	v.SetDefault("pipeline.run_relogin", true)

	// -- Login --
	v.SetDefault("login.login_urls", []string{"https://www.perplexity.ai/signin", "https://www.perplexity.ai/login"})
	v.SetDefault("login.logout_triggers", []string{"Sign out", "Log out", "Đăng xuất", "Sign Out", "Logout", "Log Out"})
	v.SetDefault("login.menu_selectors", []string{
		"[data-testid='user-menu']", "[aria-label*='account']", "[aria-label*='menu']",
		"button:has([data-testid='avatar'])", "button[aria-label*='profile']",
	})
	v.SetDefault("login.username_selectors", []string{
		"input[name='username']", "input[id='username']", "input[name='user']", "input[id='user']", "input[type='text']",
	})
	v.SetDefault("login.password_selectors", []string{
		"input[type='password']", "input[name='password']", "input[id='password']",
	})
	v.SetDefault("login.submit_selectors", []string{"button[type='submit']", "input[type='submit']"})

	// -- Humanoid --
	v.SetDefault("humanoid.move_steps_min", 8)
	v.SetDefault("humanoid.move_steps_max", 20)
	v.SetDefault("humanoid.jitter_x", 8.0)
	v.SetDefault("humanoid.jitter_y", 6.0)
	v.SetDefault("humanoid.click_pause_min", "80ms")
	v.SetDefault("humanoid.click_pause_max", "280ms")
	v.SetDefault("humanoid.key_delay_min", "40ms")
	v.SetDefault("humanoid.key_delay_max", "180ms")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration instance from a viper
// object that already has defaults applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("login.username", "CLAIMPILOT_LOGIN_USERNAME")
	v.BindEnv("login.password", "CLAIMPILOT_LOGIN_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Failures here are fatal before any browser or mailbox interaction begins.
func (c *Config) Validate() error {
	if c.Browser.CDPURL == "" {
		return fmt.Errorf("browser.cdp_url is a required configuration field")
	}
	if c.Pipeline.StepDelayMin < 0 || c.Pipeline.StepDelayMax < c.Pipeline.StepDelayMin {
		return fmt.Errorf("pipeline.step_delay_min/max must form a non-negative range")
	}
	if err := c.OTP.Validate(); err != nil {
		return fmt.Errorf("otp configuration invalid: %w", err)
	}
	return nil
}

// Validate enforces the OTP request invariants: the required fields must be
// present and the code pattern must carry exactly one capturing group.
func (o *OTPConfig) Validate() error {
	if o.InboxAccount == "" {
		return fmt.Errorf("otp.inbox_account is required")
	}
	if o.SearchQuery == "" {
		return fmt.Errorf("otp.search_query is required")
	}
	if o.CodeRegex == "" {
		return fmt.Errorf("otp.code_regex is required")
	}
	re, err := regexp.Compile(o.CodeRegex)
	if err != nil {
		return fmt.Errorf("otp.code_regex does not compile: %w", err)
	}
	if re.NumSubexp() != 1 {
		return fmt.Errorf("otp.code_regex must contain exactly one capturing group, has %d", re.NumSubexp())
	}

	switch o.SubjectMode {
	case SubjectExact, SubjectSubstring:
		if o.SubjectExact == "" {
			return fmt.Errorf("otp.subject_exact is required for %q subject matching", o.SubjectMode)
		}
	case SubjectRegex:
		if o.SubjectRegex == "" {
			return fmt.Errorf("otp.subject_regex is required for regex subject matching")
		}
		if _, err := regexp.Compile(o.SubjectRegex); err != nil {
			return fmt.Errorf("otp.subject_regex does not compile: %w", err)
		}
	default:
		return fmt.Errorf("otp.subject_match_mode must be one of exact, regex, substring (got %q)", o.SubjectMode)
	}

	if o.Timeout <= 0 {
		return fmt.Errorf("otp.timeout must be a positive duration")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("otp.poll_interval must be a positive duration")
	}
	return nil
}

// TokenFile derives the per-account cached token path from the inbox account,
// mirroring the mailbox layout ("token_user_at_example.com.json").
func (o *OTPConfig) TokenFile() string {
	return "token_" + strings.ReplaceAll(o.InboxAccount, "@", "_at_") + ".json"
}
