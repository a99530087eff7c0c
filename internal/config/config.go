package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"netpong/internal/pong"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultPath is read when Load is given an empty path.
const DefaultPath = "config.json"

// Configuration enumerates every tunable of the server. It is loaded once
// and passed around by value.
type Configuration struct {
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`

	CourtWidth  float64 `json:"courtWidth"`
	CourtHeight float64 `json:"courtHeight"`
	PaddleLen   float64 `json:"paddleLen"`
	PaddleSep   float64 `json:"paddleSep"`
	BallSpeed   float64 `json:"ballSpeed"`

	TickIntervalMs      int `json:"tickIntervalMs"`
	BroadcastIntervalMs int `json:"broadcastIntervalMs"`
	HitIntervalMs       int `json:"hitIntervalMs"`
	EndIntervalMs       int `json:"endIntervalMs"`
	WriteTimeoutMs      int `json:"writeTimeoutMs"`

	WinScore    int `json:"winScore"`
	MaxFaults   int `json:"maxFaults"`
	AcceptQueue int `json:"acceptQueue"`
}

func Default() Configuration {
	return Configuration{
		Port:                10000,
		LogLevel:            "info",
		CourtWidth:          160,
		CourtHeight:         90,
		PaddleLen:           9,
		PaddleSep:           5,
		BallSpeed:           80,
		TickIntervalMs:      10,
		BroadcastIntervalMs: 33,
		HitIntervalMs:       250,
		EndIntervalMs:       3000,
		WriteTimeoutMs:      20,
		WinScore:            10,
		MaxFaults:           3,
		AcceptQueue:         8,
	}
}

// Load builds a Configuration from the defaults, the JSON file at path, a
// .env file and PONG_* environment variables, in that order. A missing file
// is not an error.
func Load(path string) (Configuration, error) {
	c := Default()
	if path == "" {
		path = DefaultPath
	}

	cf, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.WithField("path", path).Info("no config file, using defaults")
	case err != nil:
		return c, errors.Wrapf(err, "read config %s failed", path)
	default:
		if err := json.Unmarshal(cf, &c); err != nil {
			return c, errors.Wrapf(err, "parse config %s failed", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c, errors.Wrap(err, "load .env failed")
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return c, err
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Configuration) applyEnv(getenv func(string) string) error {
	if v := getenv("PONG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	ints := map[string]*int{
		"PONG_PORT":                  &c.Port,
		"PONG_WIN_SCORE":             &c.WinScore,
		"PONG_TICK_INTERVAL_MS":      &c.TickIntervalMs,
		"PONG_BROADCAST_INTERVAL_MS": &c.BroadcastIntervalMs,
		"PONG_MAX_FAULTS":            &c.MaxFaults,
	}
	for name, dst := range ints {
		v := getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s failed", name)
		}
		*dst = n
	}
	return nil
}

func (c Configuration) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.Errorf("port %d out of range", c.Port)
	case c.CourtWidth <= 0 || c.CourtHeight <= 0:
		return errors.New("court dimensions must be positive")
	case c.CourtWidth > 32767 || c.CourtHeight > 32767:
		return errors.New("court does not fit the int16 wire coordinates")
	case c.PaddleLen <= 0:
		return errors.New("paddle length must be positive")
	case c.PaddleSep < 0 || 2*(c.PaddleSep+1) >= c.CourtWidth:
		return errors.New("paddle separation must leave room between the paddles")
	case c.BallSpeed <= 0:
		return errors.New("ball speed must be positive")
	case c.TickIntervalMs <= 0:
		return errors.New("tick interval must be positive")
	case c.BroadcastIntervalMs < c.TickIntervalMs:
		return errors.New("broadcast interval must not be finer than the tick interval")
	case c.HitIntervalMs < 0 || c.EndIntervalMs < 0:
		return errors.New("hit and end intervals must not be negative")
	case c.WriteTimeoutMs <= 0:
		return errors.New("write timeout must be positive")
	case c.WinScore < 1 || c.WinScore > 254:
		return errors.New("win score must be between 1 and 254")
	case c.AcceptQueue < 1:
		return errors.New("accept queue must hold at least one connection")
	}
	return nil
}

// Game projects the simulation tunables.
func (c Configuration) Game() pong.Config {
	return pong.Config{
		CourtWidth:   c.CourtWidth,
		CourtHeight:  c.CourtHeight,
		PaddleLen:    c.PaddleLen,
		PaddleSep:    c.PaddleSep,
		BallSpeed:    c.BallSpeed,
		TickInterval: ms(c.TickIntervalMs),
		HitInterval:  ms(c.HitIntervalMs),
		EndInterval:  ms(c.EndIntervalMs),
		WinScore:     c.WinScore,
	}
}

func (c Configuration) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Configuration) TickInterval() time.Duration {
	return ms(c.TickIntervalMs)
}

func (c Configuration) BroadcastInterval() time.Duration {
	return ms(c.BroadcastIntervalMs)
}

func (c Configuration) WriteTimeout() time.Duration {
	return ms(c.WriteTimeoutMs)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
