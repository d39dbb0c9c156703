// Package config loads Nebula's configuration from environment
// variables, an optional .env file, and an optional config file using
// a viper-based layered loader.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is substituted at build time via -ldflags; it appears in the
// default HTTP user agent.
var Version = "dev"

// Config aggregates every tunable the download engine reads at startup.
type Config struct {
	Download struct {
		Dir                string
		MaxConcurrentTasks int
	}
	HTTP struct {
		MaxConnectionsPerFile int
		ConnectTimeoutSecs    int
		ReadTimeoutSecs       int
		ChunkSize             int
		UserAgent             string
		Proxy                 string
	}
	Torrent struct {
		ListenPort         int
		EnableDHT          bool
		EnableUPnP         bool
		EnablePEX          bool
		MaxUploadSpeed     int64
		MaxDownloadSpeed   int64
		MaxPeers           int
		SeedRatioLimit     float64
		ExtraTrackers      []string
		SequentialDownload bool
	}
	Retry struct {
		MaxRetries     int
		BaseDelaySecs  int
		MaxDelaySecs   int
	}
}

// ConnectTimeout returns HTTP.ConnectTimeoutSecs as a time.Duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutSecs) * time.Second
}

// ReadTimeout returns HTTP.ReadTimeoutSecs as a time.Duration.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.HTTP.ReadTimeoutSecs) * time.Second
}

// BaseDelay returns Retry.BaseDelaySecs as a time.Duration.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelaySecs) * time.Second
}

// MaxDelay returns Retry.MaxDelaySecs as a time.Duration.
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySecs) * time.Second
}

// Load reads configuration from environment variables (prefix NEBULA_),
// an optional .env file, and an optional ./config file, layered over
// built-in defaults.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("NEBULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("download.dir", defaultDownloadDir())
	v.SetDefault("download.maxconcurrenttasks", 5)

	v.SetDefault("http.maxconnectionsperfile", 8)
	v.SetDefault("http.connecttimeoutsecs", 30)
	v.SetDefault("http.readtimeoutsecs", 60)
	v.SetDefault("http.chunksize", 4*1024*1024)
	v.SetDefault("http.useragent", fmt.Sprintf("Nebula/%s (+https://example.invalid/nebula)", Version))
	v.SetDefault("http.proxy", "")

	v.SetDefault("torrent.listenport", 0)
	v.SetDefault("torrent.enabledht", true)
	v.SetDefault("torrent.enableupnp", true)
	v.SetDefault("torrent.enablepex", true)
	v.SetDefault("torrent.maxuploadspeed", 0)
	v.SetDefault("torrent.maxdownloadspeed", 0)
	v.SetDefault("torrent.maxpeers", 100)
	v.SetDefault("torrent.seedratiolimit", 2.0)
	v.SetDefault("torrent.extratrackers", []string{})
	v.SetDefault("torrent.sequentialdownload", true)

	v.SetDefault("retry.maxretries", 5)
	v.SetDefault("retry.basedelaysecs", 2)
	v.SetDefault("retry.maxdelaysecs", 60)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./downloads"
	}
	return home + "/Downloads"
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
