// Package config loads the control plane's process-wide configuration from
// environment variables (§6), validates the cross-field rules, and exposes
// it as a typed Config rather than scattering os.Getenv calls through the
// codebase.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentzhq/controlplane/internal/ratelimit"
)

// Config is the process-wide configuration assembled at startup (§9).
type Config struct {
	CLITimeout        time.Duration
	CLIStartupTimeout time.Duration
	MaxConcurrentAgents int

	MaxOutputSizeBytes   int
	MaxOutputBufferBytes int
	FlushDelay           time.Duration
	FlushChunkThreshold  int

	MaxSessionAge   time.Duration
	MaxSessionCount int

	AllowedPathPrefix string
	DangerousCommands []string

	RateLimit ratelimit.Config

	HTTPAddr        string
	LogLevel        string
	TelemetryOptOut bool
	RepoRoot        string
}

// defaultDangerousCommands is the closed set of substrings §6 calls out as
// always-dangerous, regardless of agent type.
var defaultDangerousCommands = []string{
	"rm -rf /", "rm -rf /*", "sudo rm", "> /dev/sda", "mkfs", "dd if=",
	":(){:|:&};:", "curl | bash", "wget | sh", "curl | sh",
}

// Load reads configuration from the environment (AGENTZ_* keys), applying
// the §6 defaults for anything unset, then validates it.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	repoRoot, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("resolving working directory: %w", err)
	}
	v.SetDefault("repo_root", repoRoot)
	v.SetDefault("allowed_path_prefix", repoRoot)

	cfg := Config{
		CLITimeout:           time.Duration(v.GetInt64("cli_timeout_ms")) * time.Millisecond,
		CLIStartupTimeout:    time.Duration(v.GetInt64("cli_startup_timeout_ms")) * time.Millisecond,
		MaxConcurrentAgents:  v.GetInt("max_concurrent_agents"),
		MaxOutputSizeBytes:   v.GetInt("max_output_size_bytes"),
		MaxOutputBufferBytes: v.GetInt("max_output_buffer_bytes"),
		FlushDelay:           time.Duration(v.GetInt64("flush_delay_ms")) * time.Millisecond,
		FlushChunkThreshold:  v.GetInt("flush_chunk_threshold"),
		MaxSessionAge:        time.Duration(v.GetInt64("max_session_age_ms")) * time.Millisecond,
		MaxSessionCount:      v.GetInt("max_sessions_count"),
		AllowedPathPrefix:    v.GetString("allowed_path_prefix"),
		DangerousCommands:    dangerousCommands(v),
		RateLimit: ratelimit.Config{
			MaxRequestsPerMinute: v.GetInt("rate_limit_requests_per_minute"),
			MaxTokensPerRequest:  v.GetInt("rate_limit_max_tokens_per_request"),
			MaxTokensPerMinute:   v.GetInt("rate_limit_tokens_per_minute"),
			MaxTokensPerHour:     v.GetInt("rate_limit_tokens_per_hour"),
			SuspensionDuration:   time.Duration(v.GetInt64("rate_limit_suspension_duration_ms")) * time.Millisecond,
			MaxViolations:        v.GetInt("rate_limit_max_violations"),
		},
		HTTPAddr:        v.GetString("http_addr"),
		LogLevel:        v.GetString("log_level"),
		TelemetryOptOut: v.GetBool("telemetry_optout"),
		RepoRoot:        v.GetString("repo_root"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cli_timeout_ms", 3_600_000)
	v.SetDefault("cli_startup_timeout_ms", 30_000)
	v.SetDefault("max_concurrent_agents", 3)
	v.SetDefault("max_output_size_bytes", 10_000_000)
	v.SetDefault("max_output_buffer_bytes", 1_000_000)
	v.SetDefault("flush_delay_ms", 250)
	v.SetDefault("flush_chunk_threshold", 10)
	v.SetDefault("max_session_age_ms", (7 * 24 * time.Hour).Milliseconds())
	v.SetDefault("max_sessions_count", 100)
	v.SetDefault("rate_limit_requests_per_minute", 60)
	v.SetDefault("rate_limit_max_tokens_per_request", 50_000)
	v.SetDefault("rate_limit_tokens_per_minute", 200_000)
	v.SetDefault("rate_limit_tokens_per_hour", 1_000_000)
	v.SetDefault("rate_limit_suspension_duration_ms", (15 * time.Minute).Milliseconds())
	v.SetDefault("rate_limit_max_violations", 5)
	v.SetDefault("http_addr", "127.0.0.1:4317")
	v.SetDefault("log_level", "info")
	v.SetDefault("telemetry_optout", false)
}

// dangerousCommands returns AGENTZ_DANGEROUS_COMMANDS split on commas if
// set, else the §6 default set.
func dangerousCommands(v *viper.Viper) []string {
	if raw := v.GetString("dangerous_commands"); raw != "" {
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultDangerousCommands
}

// Validate checks the cross-field rules §6 mandates.
func (c Config) Validate() error {
	if c.MaxOutputBufferBytes > c.MaxOutputSizeBytes {
		return fmt.Errorf("config: MAX_OUTPUT_BUFFER_BYTES (%d) must be <= MAX_OUTPUT_SIZE_BYTES (%d)", c.MaxOutputBufferBytes, c.MaxOutputSizeBytes)
	}
	if c.CLIStartupTimeout >= c.CLITimeout {
		return fmt.Errorf("config: CLI_STARTUP_TIMEOUT_MS (%s) must be < CLI_TIMEOUT_MS (%s)", c.CLIStartupTimeout, c.CLITimeout)
	}
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_AGENTS must be >= 1, got %d", c.MaxConcurrentAgents)
	}
	if c.RateLimit.MaxTokensPerMinute > c.RateLimit.MaxTokensPerHour {
		return fmt.Errorf("config: RATE_LIMIT_TOKENS_PER_MINUTE (%d) must be <= RATE_LIMIT_TOKENS_PER_HOUR (%d)", c.RateLimit.MaxTokensPerMinute, c.RateLimit.MaxTokensPerHour)
	}
	return nil
}
