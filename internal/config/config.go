/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/redeemworks/redeem-service/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the redeem-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	MidtransServerKey    string `mapstructure:"MIDTRANS_SERVER_KEY"`
	MidtransIsProduction bool   `mapstructure:"MIDTRANS_IS_PRODUCTION"`

	RedemptionAPIBaseURL string `mapstructure:"REDEMPTION_API_BASE_URL"`
	RedemptionSecretKey  string `mapstructure:"REDEMPTION_SECRET_KEY"`
	SessionProviderURL   string `mapstructure:"SESSION_PROVIDER_URL"`

	WorkerCount              int   `mapstructure:"WORKER_COUNT"`
	CostPerCode              int64 `mapstructure:"COST_PER_CODE"`
	MinTopupAmount           int64 `mapstructure:"MIN_TOPUP_AMOUNT"`
	MaxCodesPerBatch         int   `mapstructure:"MAX_CODES_PER_BATCH"`
	JobTimeoutSeconds        int   `mapstructure:"JOB_TIMEOUT_SECONDS"`
	MaxTransientRetries      int   `mapstructure:"MAX_TRANSIENT_RETRIES"`
	MaxRegionCycles          int   `mapstructure:"MAX_REGION_CYCLES"`
	SubmitRateLimitPerMinute int   `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`

	// Regions is parsed from the REGIONS variable, a comma-separated list of
	// key=endpoint:name entries, e.g. "sg=SG_IDC_03:Singapore,tw=TW_IDC_04:Taiwan".
	Regions map[string]domain.Region `mapstructure:"-"`

	// PlatformVersions is parsed from PLATFORM_VERSIONS, a comma-separated list
	// of version=label entries, e.g. "12.0=Android 12".
	PlatformVersions map[string]string `mapstructure:"-"`
}

const defaultRegions = "hk2=HKXC_IDC_01:Hong Kong 2,hk=HK_IDC_01:Hong Kong,th=TH_IDC_01:Thailand,sg=SG_IDC_03:Singapore,tw=TW_IDC_04:Taiwan,us=US_IDC_01:United States"

const defaultPlatformVersions = "10.0=Android 10,15.0=Android 15,8.1=Android 8.1,12.0=Android 12"

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "redeem.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "redeem:rate_limit")
	viper.SetDefault("REDEMPTION_API_BASE_URL", "https://twplay.redfinger.com")
	viper.SetDefault("WORKER_COUNT", 3)
	viper.SetDefault("COST_PER_CODE", 1000)
	viper.SetDefault("MIN_TOPUP_AMOUNT", 1000)
	viper.SetDefault("MAX_CODES_PER_BATCH", 100)
	viper.SetDefault("JOB_TIMEOUT_SECONDS", 300)
	viper.SetDefault("MAX_TRANSIENT_RETRIES", 2)
	viper.SetDefault("MAX_REGION_CYCLES", 0)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REGIONS", defaultRegions)
	viper.SetDefault("PLATFORM_VERSIONS", defaultPlatformVersions)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("MIDTRANS_SERVER_KEY")
	_ = viper.BindEnv("MIDTRANS_IS_PRODUCTION")
	_ = viper.BindEnv("REDEMPTION_API_BASE_URL")
	_ = viper.BindEnv("REDEMPTION_SECRET_KEY")
	_ = viper.BindEnv("SESSION_PROVIDER_URL")
	_ = viper.BindEnv("WORKER_COUNT")
	_ = viper.BindEnv("COST_PER_CODE")
	_ = viper.BindEnv("MIN_TOPUP_AMOUNT")
	_ = viper.BindEnv("MAX_CODES_PER_BATCH")
	_ = viper.BindEnv("JOB_TIMEOUT_SECONDS")
	_ = viper.BindEnv("MAX_TRANSIENT_RETRIES")
	_ = viper.BindEnv("MAX_REGION_CYCLES")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REGIONS")
	_ = viper.BindEnv("PLATFORM_VERSIONS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.Regions, err = parseRegions(viper.GetString("REGIONS"))
	if err != nil {
		return
	}
	config.PlatformVersions, err = parsePlatformVersions(viper.GetString("PLATFORM_VERSIONS"))
	if err != nil {
		return
	}

	if config.WorkerCount < 1 || config.WorkerCount > 10 {
		log.Printf("level=warn component=config msg=\"worker count out of range; coercing\" workers=%d", config.WorkerCount)
		config.WorkerCount = 3
	}
	if config.CostPerCode < 0 {
		log.Printf("level=warn component=config msg=\"negative cost per code; coercing to zero\" cost=%d", config.CostPerCode)
		config.CostPerCode = 0
	}
	if config.MinTopupAmount < 1000 {
		config.MinTopupAmount = 1000
	}
	if config.MaxCodesPerBatch <= 0 {
		config.MaxCodesPerBatch = 100
	}
	if config.JobTimeoutSeconds <= 0 {
		config.JobTimeoutSeconds = 300
	}
	if config.MaxTransientRetries <= 0 {
		config.MaxTransientRetries = 2
	}
	if config.MaxRegionCycles < 0 {
		config.MaxRegionCycles = 0
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "redeem:rate_limit"
	}

	return
}

// RegionList returns the configured regions ordered by key, for display.
func (c *Config) RegionList() []domain.Region {
	keys := make([]string, 0, len(c.Regions))
	for k := range c.Regions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	regions := make([]domain.Region, 0, len(keys))
	for _, k := range keys {
		regions = append(regions, c.Regions[k])
	}
	return regions
}

func parseRegions(raw string) (map[string]domain.Region, error) {
	regions := make(map[string]domain.Region)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid region entry %q: want key=endpoint:name", entry)
		}
		endpoint, name, ok := strings.Cut(value, ":")
		if !ok {
			return nil, fmt.Errorf("invalid region entry %q: want key=endpoint:name", entry)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		regions[key] = domain.Region{
			Key:          key,
			EndpointCode: strings.TrimSpace(endpoint),
			Name:         strings.TrimSpace(name),
		}
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions configured")
	}
	return regions, nil
}

func parsePlatformVersions(raw string) (map[string]string, error) {
	versions := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		version, label, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid platform version entry %q: want version=label", entry)
		}
		versions[strings.TrimSpace(version)] = strings.TrimSpace(label)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no platform versions configured")
	}
	return versions, nil
}
