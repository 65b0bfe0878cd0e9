package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server  Server  `json:"server"`
	Call    Call    `json:"call"`
	Storage Storage `json:"storage"`
	Log     Log     `json:"log"`
}

type Server struct {
	HTTPAddr string `json:"http_addr"`
}

type Call struct {
	// How long an unanswered offer rings before the attempt is abandoned.
	OfferTimeoutSec int `json:"offer_timeout_seconds"`

	// How long an ended session lingers so late signaling events are
	// answered with an invalid-state error instead of "no such session".
	EndedGraceSec int `json:"ended_grace_seconds"`

	// Max ICE candidates buffered per session per target while the target
	// is unreachable.
	CandidateBuffer int `json:"candidate_buffer"`
}

type Storage struct {
	DataDir string `json:"data_dir"`
}

type Log struct {
	Level string `json:"level"` // debug|info|warn|error
}

func Default() Config {
	return Config{
		Server: Server{
			HTTPAddr: ":8800",
		},
		Call: Call{
			OfferTimeoutSec: 45,
			EndedGraceSec:   30,
			CandidateBuffer: 32,
		},
		Storage: Storage{
			DataDir: "data",
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Call.OfferTimeoutSec <= 0 {
		return errors.New("call.offer_timeout_seconds must be > 0")
	}
	if c.Call.EndedGraceSec <= 0 {
		return errors.New("call.ended_grace_seconds must be > 0")
	}
	if c.Call.CandidateBuffer <= 0 {
		return errors.New("call.candidate_buffer must be > 0")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug|info|warn|error, got %q", c.Log.Level)
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Ensure loads config if it exists; otherwise creates a default config
// file. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
