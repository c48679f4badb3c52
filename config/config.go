package config

import (
	"agentdeck/internal/appdirs"
	"agentdeck/log"
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Conf holds the loaded application configuration.
var Conf Config

// resolveConfigPath is swappable in tests.
var resolveConfigPath = func() (string, error) {
	dirs, err := appdirs.Resolve()
	if err != nil {
		return "", err
	}
	return dirs.ConfigFile, nil
}

type Config struct {
	Server  Server  `toml:"server"`
	Agent   Agent   `toml:"agent"`
	Monitor Monitor `toml:"monitor"`
	Queue   Queue   `toml:"queue"`
	Github  Github  `toml:"github"`
	Npm     Npm     `toml:"npm"`
}

type Server struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Agent configures the remote agent-run API.
type Agent struct {
	BaseUrl        string `toml:"base_url"`
	ApiKey         string `toml:"api_key"`
	OrganizationId string `toml:"organization_id"`
	TimeoutSecond  int    `toml:"timeout_second"`
}

// Monitor controls the run polling scheduler.
type Monitor struct {
	TickSecond             int `toml:"tick_second"`
	ActiveIntervalSecond   int `toml:"active_interval_second"`
	TerminalIntervalSecond int `toml:"terminal_interval_second"`
	MaxRetries             int `toml:"max_retries"`
	RetryBaseDelaySecond   int `toml:"retry_base_delay_second"`
}

// Queue configures the optional asynq-backed background resync queue.
type Queue struct {
	Enabled       bool   `toml:"enabled"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Concurrency   int    `toml:"concurrency"`
}

type Github struct {
	BaseUrl string `toml:"base_url"`
	Token   string `toml:"token"`
}

type Npm struct {
	RegistryUrl string `toml:"registry_url"`
}

func defaultConfig() Config {
	return Config{
		Server: Server{
			Host: "127.0.0.1",
			Port: 8888,
		},
		Agent: Agent{
			BaseUrl:       "https://api.agentdeck.dev",
			TimeoutSecond: 30,
		},
		Monitor: Monitor{
			TickSecond:             1,
			ActiveIntervalSecond:   5,
			TerminalIntervalSecond: 30,
			MaxRetries:             3,
			RetryBaseDelaySecond:   2,
		},
		Queue: Queue{
			Enabled:     false,
			RedisAddr:   "localhost:6379",
			Concurrency: 3,
		},
		Github: Github{
			BaseUrl: "https://api.github.com",
		},
		Npm: Npm{
			RegistryUrl: "https://registry.npmjs.org",
		},
	}
}

// ResolveConfigPath returns the path of the active config file.
func ResolveConfigPath() (string, error) {
	return resolveConfigPath()
}

// LoadOrCreateConfig loads the config file, writing a default one when
// missing. The returned bool reports whether a new file was created.
func LoadOrCreateConfig() (bool, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		Conf = defaultConfig()
		if err := SaveConfig(); err != nil {
			return false, err
		}
		log.GetLogger().Info("created default config file", zap.String("path", path))
		return true, nil
	} else if err != nil {
		return false, err
	}

	if _, err := toml.DecodeFile(path, &Conf); err != nil {
		return false, err
	}
	return false, nil
}

// SaveConfig writes the current Conf to the config file, creating parent
// directories as needed.
func SaveConfig() error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(Conf)
}

// CheckConfig validates required fields, filling defaults for optional ones.
func CheckConfig() error {
	if Conf.Agent.BaseUrl == "" {
		return errors.New("agent.base_url is required")
	}
	if Conf.Agent.OrganizationId == "" {
		return errors.New("agent.organization_id is required")
	}

	defaults := defaultConfig()
	if Conf.Monitor.TickSecond <= 0 {
		Conf.Monitor.TickSecond = defaults.Monitor.TickSecond
	}
	if Conf.Monitor.ActiveIntervalSecond <= 0 {
		Conf.Monitor.ActiveIntervalSecond = defaults.Monitor.ActiveIntervalSecond
	}
	if Conf.Monitor.TerminalIntervalSecond <= 0 {
		Conf.Monitor.TerminalIntervalSecond = defaults.Monitor.TerminalIntervalSecond
	}
	if Conf.Monitor.MaxRetries <= 0 {
		Conf.Monitor.MaxRetries = defaults.Monitor.MaxRetries
	}
	if Conf.Monitor.RetryBaseDelaySecond <= 0 {
		Conf.Monitor.RetryBaseDelaySecond = defaults.Monitor.RetryBaseDelaySecond
	}
	if Conf.Github.BaseUrl == "" {
		Conf.Github.BaseUrl = defaults.Github.BaseUrl
	}
	if Conf.Npm.RegistryUrl == "" {
		Conf.Npm.RegistryUrl = defaults.Npm.RegistryUrl
	}
	return nil
}
