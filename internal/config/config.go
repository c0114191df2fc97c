package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "sniper"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("pricing.fresh_data_timeout", "1s")
	v.SetDefault("pricing.max_price_age", "500ms")
	v.SetDefault("pricing.min_sources", 2)
	v.SetDefault("pricing.price_tolerance_percent", 0.5)

	v.SetDefault("routing.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("routing.request_timeout", "800ms")
	v.SetDefault("routing.quote_ttl", "600ms")
	v.SetDefault("routing.route_divergence_percent", 1.0)
	v.SetDefault("routing.input_decimals", 9)
	v.SetDefault("routing.output_decimals", 6)

	v.SetDefault("safety.max_slippage_percent", 1.0)
	v.SetDefault("safety.min_profit_threshold", 1.0)
	v.SetDefault("safety.fee_estimate", 0.005)

	v.SetDefault("execution.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("execution.commitment", "confirmed")
	v.SetDefault("execution.max_execution_time", "2500ms")
	v.SetDefault("execution.poll_interval", "250ms")
	v.SetDefault("execution.simulation", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", "200ms")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.backoff_max", "2s")
	v.SetDefault("retry.failure_threshold", 3)
	v.SetDefault("retry.cooldown", "30s")

	v.SetDefault("database.path", "data/sniperforge.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.port", 8787)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
