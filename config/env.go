package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable read by FromEnv.
const EnvPrefix = "IMGOPT_"

// FromEnv loads the optional .env files, then overlays IMGOPT_* variables on
// base.  Missing .env files are not an error.
func FromEnv(base Config, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return base, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	c := base
	var err error
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && err == nil {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
				return
			}
			*dst = n
		}
	}
	setInt("QUEUE_SIZE", &c.QueueSize)
	setInt("DEFAULT_QUALITY", &c.DefaultQuality)
	setInt("SEARCH_MIN_QUALITY", &c.Search.MinQuality)
	setInt("SEARCH_MAX_QUALITY", &c.Search.MaxQuality)
	setInt("SEARCH_MAX_ITERATIONS", &c.Search.MaxIterations)
	setInt("ANALYZER_STRIDE", &c.Analyzer.Stride)
	setInt("VIPS_CACHE_SIZE", &c.Accelerated.CacheSize)
	setInt("VIPS_CONCURRENCY", &c.Accelerated.Concurrency)
	setInt("SERVER_MAX_BODY_BYTES", &c.Server.MaxBodyBytes)
	if err != nil {
		return base, err
	}

	if v, ok := lookup("MAX_FILE_BYTES"); ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return base, fmt.Errorf("config: %sMAX_FILE_BYTES: %w", EnvPrefix, perr)
		}
		c.MaxFileBytes = n
	}
	if v, ok := lookup("SEARCH_TOLERANCE"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return base, fmt.Errorf("config: %sSEARCH_TOLERANCE: %w", EnvPrefix, perr)
		}
		c.Search.Tolerance = f
	}
	for key, dst := range map[string]*time.Duration{
		"ITEM_PAUSE":  &c.ItemPause,
		"JOB_TIMEOUT": &c.JobTimeout,
	} {
		if v, ok := lookup(key); ok {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				return base, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, perr)
			}
			*dst = d
		}
	}
	if v, ok := lookup("ACCELERATED"); ok {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return base, fmt.Errorf("config: %sACCELERATED: %w", EnvPrefix, perr)
		}
		c.Accelerated.Enabled = b
	}
	if v, ok := lookup("STORAGE_DIR"); ok {
		c.Storage.RootDir = v
	}
	if v, ok := lookup("LISTEN"); ok {
		c.Server.Listen = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return c, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
