package conf

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

// 配置加载（API密钥、风控参数等）

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// Okx 加密货币场所（永续合约/现货）
type Okx struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
	Password  string `yaml:"password"`
	Simulated bool   `yaml:"simulated"`
	WsURL     string `yaml:"wsURL"` // 私有订单频道，用于接收平仓回调
}

// Oanda 外汇经纪商，live 和 practice 是两套独立的凭证
type Oanda struct {
	LiveToken       string `yaml:"liveToken"`
	LiveAccountID   string `yaml:"liveAccountID"`
	DemoToken       string `yaml:"demoToken"`
	DemoAccountID   string `yaml:"demoAccountID"`
	LiveApiBase     string `yaml:"liveApiBase"`
	PracticeApiBase string `yaml:"practiceApiBase"`
}

// Tradier 股票/期货经纪商
type Tradier struct {
	Token     string `yaml:"token"`
	AccountID string `yaml:"accountID"`
	ApiBase   string `yaml:"apiBase"`
	Sandbox   bool   `yaml:"sandbox"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ExecutionConfig 下单风控的各项阈值（Charter）
type ExecutionConfig struct {
	ExecutionEnabled bool `yaml:"ExecutionEnabled"` // 全局开关，false 时拒绝一切下单
	LiveTrading      bool `yaml:"LiveTrading"`      // 进程级实盘模式

	MinNotionalUsd    float64 `yaml:"MinNotionalUsd"`    // 最小下单名义价值
	MinExpectedPnlUsd float64 `yaml:"MinExpectedPnlUsd"` // 最小预期盈利
	MinRiskReward     float64 `yaml:"MinRiskReward"`     // 最小盈亏比
	MinNetProfitUsd   float64 `yaml:"MinNetProfitUsd"`   // 扣除手续费后的最小净利
	MinRiskUsd        float64 `yaml:"MinRiskUsd"`        // 最小风险金额
	AllowMicroTrades  bool    `yaml:"AllowMicroTrades"`  // 是否允许微型单（跳过微型单检查）
	MaxFundingRate    float64 `yaml:"MaxFundingRate"`    // 资金费率上限（仅衍生品）

	TimeframeWhitelist []string      `yaml:"TimeframeWhitelist"` // 允许的信号周期，空表示不限制
	CooldownWindow     time.Duration `yaml:"CooldownWindow"`     // 同一 symbol 的下单冷却期
	PlaceOrderDeadline time.Duration `yaml:"PlaceOrderDeadline"` // 下单软超时，超过则撤单并报 LatencyBreach

	AutoPromoteStrategy    bool          `yaml:"AutoPromoteStrategy"`    // 是否自动晋升策略到实盘
	PromoteMinTrades       int           `yaml:"PromoteMinTrades"`       // 晋升所需最小成交笔数
	PromoteMinWinRate      float64       `yaml:"PromoteMinWinRate"`      // 晋升所需最小胜率
	WinnerLockThresholdUsd float64       `yaml:"WinnerLockThresholdUsd"` // 浮盈超过该值后推保本止损
	ZombieMaxAge           time.Duration `yaml:"ZombieMaxAge"`           // 僵尸仓位最大存活时间
	ZombiePnlBand          float64       `yaml:"ZombiePnlBand"`          // 僵尸仓位的盈亏死区（USD）
	SentinelInterval       time.Duration `yaml:"SentinelInterval"`       // 巡检周期

	AllowCrossVenueDuplicateSymbols bool `yaml:"AllowCrossVenueDuplicateSymbols"` // 是否允许多个场所持有同一 symbol

	FeeRateBps map[string]float64 `yaml:"FeeRateBps"` // 每个场所的费率（基点）

	StatePath string `yaml:"StatePath"` // 状态账本 json 路径
	AuditPath string `yaml:"AuditPath"` // 巡检审计日志路径
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	Language     string `yaml:"language"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Webhook   WebhookConfig   `yaml:"webhook"`
	Okx       `yaml:"okx"`
	Oanda     Oanda   `yaml:"oanda"`
	Tradier   Tradier `yaml:"tradier"`
	Db        `yaml:"database"`
	Execution ExecutionConfig `yaml:"execution"`
	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	return nil
}
