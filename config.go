package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hjson/hjson-go"

	"github.com/pinpoint-geo/pinpoint/geodb"
)

const (
	DefaultListen            = ":8080"
	DefaultHTTPTimeout       = 5 * time.Minute
	DefaultRateLimitInterval = 100 * time.Millisecond
	DefaultRateLimitBurst    = 10
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v interface{}

	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("cannot unmarshal duration: %w", err)
	}

	vv, ok := v.(string)
	if !ok {
		return fmt.Errorf("incorrect duration: %v", v)
	}

	dur, err := time.ParseDuration(vv)
	if err != nil {
		return fmt.Errorf("cannot parse duration: %w", err)
	}

	d.Duration = dur

	return nil
}

type config struct {
	Listen            string   `json:"listen"`
	DataDirectory     string   `json:"data_dir"`
	DatabaseURL       string   `json:"database_url"`
	UpdateEvery       duration `json:"update_every"`
	Retention         uint     `json:"retention"`
	MinFileSize       int64    `json:"min_file_size"`
	MinSizeRatio      float64  `json:"min_size_ratio"`
	HTTPTimeout       duration `json:"http_timeout"`
	RateLimitInterval duration `json:"rate_limit_interval"`
	RateLimitBurst    uint     `json:"rate_limit_burst"`
	CacheSize         uint     `json:"cache_size"`
	WorkerPoolSize    uint     `json:"worker_pool_size"`
	AllowedHosts      []string `json:"allowed_hosts"`
	APIKey            string   `json:"api_key"`
}

func (c config) GetListen() string {
	if c.Listen != "" {
		return c.Listen
	}

	return DefaultListen
}

func (c config) GetDataDirectory() string {
	if c.DataDirectory != "" {
		return c.DataDirectory
	}

	return filepath.Join(os.TempDir(), "pinpoint")
}

func (c config) GetDatabaseURL() string {
	return c.DatabaseURL
}

func (c config) GetUpdateEvery() time.Duration {
	if c.UpdateEvery.Duration == 0 {
		return geodb.DefaultUpdateEvery
	}

	return c.UpdateEvery.Duration
}

func (c config) GetRetention() int {
	if c.Retention == 0 {
		return geodb.DefaultRetentionLimit
	}

	return int(c.Retention)
}

func (c config) GetMinFileSize() int64 {
	if c.MinFileSize == 0 {
		return geodb.DefaultMinFileSize
	}

	return c.MinFileSize
}

func (c config) GetMinSizeRatio() float64 {
	if c.MinSizeRatio == 0 {
		return geodb.DefaultMinSizeRatio
	}

	return c.MinSizeRatio
}

func (c config) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout.Duration == 0 {
		return DefaultHTTPTimeout
	}

	return c.HTTPTimeout.Duration
}

func (c config) GetRateLimitInterval() time.Duration {
	if c.RateLimitInterval.Duration == 0 {
		return DefaultRateLimitInterval
	}

	return c.RateLimitInterval.Duration
}

func (c config) GetRateLimitBurst() int {
	if c.RateLimitBurst == 0 {
		return DefaultRateLimitBurst
	}

	return int(c.RateLimitBurst)
}

func (c config) GetCacheSize() int {
	if c.CacheSize == 0 {
		return geodb.DefaultCacheSize
	}

	return int(c.CacheSize)
}

func (c config) GetWorkerPoolSize() int {
	if c.WorkerPoolSize == 0 {
		return geodb.DefaultWorkerPoolSize
	}

	return int(c.WorkerPoolSize)
}

func (c config) GetAllowedHosts() []string {
	return c.AllowedHosts
}

func (c config) GetAPIKey() string {
	return c.APIKey
}

func parseConfig(path string) (*config, error) {
	conf := config{}

	if path == "" {
		return &conf, nil
	}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}

	rawMap := map[string]interface{}{}

	if err := hjson.Unmarshal(content, &rawMap); err != nil {
		return nil, fmt.Errorf("cannot parse json: %w", err)
	}

	rawBytes, _ := json.Marshal(rawMap)

	if err := json.Unmarshal(rawBytes, &conf); err != nil {
		return nil, fmt.Errorf("cannot map config values: %w", err)
	}

	if conf.Listen != "" {
		if _, _, err := net.SplitHostPort(conf.Listen); err != nil {
			return nil, fmt.Errorf("incorrect host:port for listen: %w", err)
		}
	}

	if conf.MinSizeRatio < 0 || conf.MinSizeRatio > 1 {
		return nil, fmt.Errorf("incorrect min_size_ratio %v, expected [0, 1]", conf.MinSizeRatio)
	}

	if conf.DataDirectory != "" {
		conf.DataDirectory, err = filepath.Abs(conf.DataDirectory)
		if err != nil {
			return nil, fmt.Errorf("incorrect data directory: %w", err)
		}
	}

	return &conf, nil
}
