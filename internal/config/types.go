package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// SourceConfig 描述单个价格来源。
type SourceConfig struct {
	Name         string   `mapstructure:"name"`
	Kind         string   `mapstructure:"kind"` // http | websocket
	URL          string   `mapstructure:"url"`
	RateLimitRPS float64  `mapstructure:"rate_limit_rps"`
	Burst        int      `mapstructure:"burst"`
	Pairs        []string `mapstructure:"pairs"`
}

// PricingConfig 控制多源价格校验行为。
// 每次共识计算都重新拉取全部来源，不允许复用历史报价。
type PricingConfig struct {
	FreshDataTimeout      time.Duration  `mapstructure:"fresh_data_timeout"`
	MaxPriceAge           time.Duration  `mapstructure:"max_price_age"`
	MinSources            int            `mapstructure:"min_sources"`
	PriceTolerancePercent float64        `mapstructure:"price_tolerance_percent"`
	Sources               []SourceConfig `mapstructure:"sources"`
}

// RoutingConfig 描述路由聚合商接入参数。
type RoutingConfig struct {
	BaseURL                string        `mapstructure:"base_url"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	QuoteTTL               time.Duration `mapstructure:"quote_ttl"`
	RouteDivergencePercent float64       `mapstructure:"route_divergence_percent"`
	InputDecimals          int           `mapstructure:"input_decimals"`
	OutputDecimals         int           `mapstructure:"output_decimals"`
}

// SafetyConfig 管理交易前安全检查参数。
type SafetyConfig struct {
	MaxSlippagePercent float64 `mapstructure:"max_slippage_percent"`
	MinProfitThreshold float64 `mapstructure:"min_profit_threshold"`
	FeeEstimate        float64 `mapstructure:"fee_estimate"`
}

// ExecutionConfig 控制链上提交与确认行为。
type ExecutionConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	Commitment       string        `mapstructure:"commitment"`
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Simulation       bool          `mapstructure:"simulation"`
}

// RetryConfig 统一控制重试与熔断机制。
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffFactor    float64       `mapstructure:"backoff_factor"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// WalletConfig 描述签名钱包。私钥材料只存在于密钥文件中，不进入配置。
type WalletConfig struct {
	Address     string `mapstructure:"address"`
	KeypairPath string `mapstructure:"keypair_path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if c.Pricing.FreshDataTimeout <= 0 {
		err = multierr.Append(err, errors.New("pricing.fresh_data_timeout 必须大于0"))
	}
	if c.Pricing.MaxPriceAge <= 0 {
		err = multierr.Append(err, errors.New("pricing.max_price_age 必须大于0"))
	}
	if c.Pricing.MinSources < 2 {
		err = multierr.Append(err, errors.New("pricing.min_sources 不能小于2"))
	}
	if c.Pricing.PriceTolerancePercent <= 0 {
		err = multierr.Append(err, errors.New("pricing.price_tolerance_percent 必须大于0"))
	}
	if len(c.Pricing.Sources) < c.Pricing.MinSources {
		err = multierr.Append(err, fmt.Errorf("pricing.sources 数量(%d)不能少于 min_sources(%d)", len(c.Pricing.Sources), c.Pricing.MinSources))
	}
	for i, src := range c.Pricing.Sources {
		if src.Name == "" {
			err = multierr.Append(err, fmt.Errorf("pricing.sources[%d].name 不能为空", i))
		}
		switch strings.ToLower(src.Kind) {
		case "http", "websocket":
		default:
			err = multierr.Append(err, fmt.Errorf("pricing.sources[%d].kind 只支持 http 或 websocket", i))
		}
		if src.URL == "" {
			err = multierr.Append(err, fmt.Errorf("pricing.sources[%d].url 不能为空", i))
		}
	}

	if c.Routing.BaseURL == "" {
		err = multierr.Append(err, errors.New("routing.base_url 不能为空"))
	}
	if c.Routing.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("routing.request_timeout 必须大于0"))
	}
	if c.Routing.QuoteTTL <= 0 {
		err = multierr.Append(err, errors.New("routing.quote_ttl 必须大于0"))
	}
	if c.Routing.RouteDivergencePercent <= 0 {
		err = multierr.Append(err, errors.New("routing.route_divergence_percent 必须大于0"))
	}
	if c.Routing.InputDecimals < 0 || c.Routing.InputDecimals > 18 {
		err = multierr.Append(err, errors.New("routing.input_decimals 必须位于[0,18]"))
	}
	if c.Routing.OutputDecimals < 0 || c.Routing.OutputDecimals > 18 {
		err = multierr.Append(err, errors.New("routing.output_decimals 必须位于[0,18]"))
	}

	if c.Safety.MaxSlippagePercent <= 0 || c.Safety.MaxSlippagePercent > 20 {
		err = multierr.Append(err, errors.New("safety.max_slippage_percent 应位于(0,20]"))
	}
	if c.Safety.MinProfitThreshold < 0 {
		err = multierr.Append(err, errors.New("safety.min_profit_threshold 不能为负"))
	}
	if c.Safety.FeeEstimate < 0 {
		err = multierr.Append(err, errors.New("safety.fee_estimate 不能为负"))
	}

	if c.Execution.RPCURL == "" && !c.Execution.Simulation {
		err = multierr.Append(err, errors.New("execution.rpc_url 不能为空"))
	}
	if c.Execution.MaxExecutionTime <= 0 {
		err = multierr.Append(err, errors.New("execution.max_execution_time 必须大于0"))
	}
	if c.Execution.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("execution.poll_interval 必须大于0"))
	}
	if c.Execution.PollInterval >= c.Execution.MaxExecutionTime {
		err = multierr.Append(err, errors.New("execution.poll_interval 不能大于等于 max_execution_time"))
	}

	if c.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("retry.max_attempts 必须大于0"))
	}
	if c.Retry.BackoffBase <= 0 || c.Retry.BackoffMax <= 0 {
		err = multierr.Append(err, errors.New("retry.backoff 必须为正"))
	}
	if c.Retry.BackoffBase > c.Retry.BackoffMax {
		err = multierr.Append(err, errors.New("retry.backoff_base 不能大于 backoff_max"))
	}
	if c.Retry.BackoffFactor < 1 {
		err = multierr.Append(err, errors.New("retry.backoff_factor 不能小于1"))
	}
	if c.Retry.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("retry.failure_threshold 必须大于0"))
	}
	if c.Retry.Cooldown <= 0 {
		err = multierr.Append(err, errors.New("retry.cooldown 必须大于0"))
	}

	if !c.Execution.Simulation {
		if c.Wallet.Address == "" || c.Wallet.KeypairPath == "" {
			err = multierr.Append(err, errors.New("真实交易需要配置 wallet.address 与 wallet.keypair_path"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
