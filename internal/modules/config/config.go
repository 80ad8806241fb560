package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/models"
)

const (
	configFilePathENV = "CONFIG_FILE"
	envFileENV        = "ENV_FILE"
)

const (
	EnvProduction  = "production"
	EnvIntegration = "integration"
	EnvDevelopment = "development"
)

type Config struct {
	Env             string `validate:"oneof=production integration development"`
	Port            int    `validate:"required,min=1,max=65535"`
	HealthAddr      string `validate:"required"`
	WebhookPassword string `validate:"required"`
	LogLevel        string

	Binance struct {
		Key    string `validate:"required"`
		Secret string `validate:"required"`
		// StreamURL пусто = боевой fstream
		StreamURL string
	}

	DB string

	Telegram struct {
		Token  string
		ChatID int64
	}

	Jaeger struct {
		Host string
		Port int
	}

	Retry struct {
		Attempts int           `validate:"min=1"`
		Delay    time.Duration `validate:"min=0"`
	}

	RoePollInterval   time.Duration `validate:"min=0"`
	RoeCooldown       time.Duration `validate:"min=0"`
	OpenMaxIterations int           `validate:"min=0"`

	Trade Trade
}

// Trade торговые параметры, уже разобранные в проценты-доли.
type Trade struct {
	OpenValues             map[string]float64
	OpenPercent            float64 `validate:"min=0,max=1"`
	ClosePercents          []float64
	LimitOrderPricePercent float64 `validate:"min=0,max=1"`

	StopLossOnOpen    float64 `validate:"min=0"`
	StopLossAfterTP   float64 `validate:"min=0"`
	RoeTiers          []models.RoeTier
	TakeProfitOnOpen  float64 `validate:"min=0"`
	TakeProfitAfterTP float64 `validate:"min=0"`

	Leverages   map[string]int
	LimitOrders [][2]float64

	AllowExtra           bool
	SetExtraEvery        int `validate:"min=0"`
	ExtraIntervalPercent float64

	OnlyPnl         bool
	CreatePositions bool
}

// FullCycleSize одно открытие + по одному TP на каждый процент закрытия.
func (t Trade) FullCycleSize() int { return len(t.ClosePercents) + 1 }

func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", EnvProduction)
	v.SetDefault("PORT", 3030)
	v.SetDefault("HEALTH_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JAEGER_PORT", 6831)
	v.SetDefault("RETRY_ATTEMPTS", 15)
	v.SetDefault("RETRY_DELAY", "1s")
	v.SetDefault("ROE_POLL_INTERVAL", "30s")
	v.SetDefault("ROE_COOLDOWN", "10s")
	v.SetDefault("OPEN_MAX_ITERATIONS", 3)
}

func NewConfig() (*Config, error) {
	loadDotEnv()

	v := viper.New()
	defaults(v)
	if err := loadYAMLDefaults(v, os.Getenv(configFilePathENV)); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	return fromViper(v)
}

// loadDotEnv .env.<ENV_FILE> или .env, если файлы есть. Уже выставленные переменные не трогаем.
func loadDotEnv() {
	files := []string{".env"}
	if name := os.Getenv(envFileENV); name != "" {
		files = append([]string{".env." + name}, files...)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// loadYAMLDefaults плоский yaml KEY: value, ключи как у переменных окружения.
func loadYAMLDefaults(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Config("read config file %s: %v", path, err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errs.Config("decode config file %s: %v", path, err)
	}
	for k, val := range values {
		v.SetDefault(strings.ToUpper(k), val)
	}
	return nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.Env = v.GetString("APP_ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.HealthAddr = v.GetString("HEALTH_ADDR")
	cfg.WebhookPassword = v.GetString("WEBHOOK_PASSWORD")
	cfg.LogLevel = v.GetString("LOG_LEVEL")
	cfg.Binance.Key = v.GetString("BIN_API_KEY")
	cfg.Binance.Secret = v.GetString("BIN_API_SECRET")
	cfg.Binance.StreamURL = v.GetString("BIN_STREAM_URL")
	cfg.DB = v.GetString("DATABASE_DSN")
	cfg.Telegram.Token = v.GetString("TELEGRAM_TOKEN")
	cfg.Telegram.ChatID = v.GetInt64("TELEGRAM_CHAT_ID")
	cfg.Jaeger.Host = v.GetString("JAEGER_HOST")
	cfg.Jaeger.Port = v.GetInt("JAEGER_PORT")
	cfg.Retry.Attempts = v.GetInt("RETRY_ATTEMPTS")
	cfg.Retry.Delay = v.GetDuration("RETRY_DELAY")
	cfg.RoePollInterval = v.GetDuration("ROE_POLL_INTERVAL")
	cfg.RoeCooldown = v.GetDuration("ROE_COOLDOWN")
	cfg.OpenMaxIterations = v.GetInt("OPEN_MAX_ITERATIONS")

	cfg.Trade = Trade{
		OpenValues:             ParseSymbolValues(v.GetString("POSITION_OPEN_VALUES")),
		OpenPercent:            ParsePercent(v.GetString("POSITION_OPEN_PERCENT")),
		ClosePercents:          ParseClosePercents(v.GetString("POSITION_CLOSE_AFTER_TP")),
		LimitOrderPricePercent: ParsePercent(v.GetString("LIMIT_ORDER_PRICE_PERCENT")),
		StopLossOnOpen:         ParsePercent(v.GetString("SL_POSITION_OPEN")),
		StopLossAfterTP:        ParsePercent(v.GetString("SL_AFTER_TP")),
		RoeTiers:               ParseRoeTiers(v.GetString("SL_ON_ROE")),
		TakeProfitOnOpen:       ParsePercent(v.GetString("TP_POSITION_OPEN")),
		TakeProfitAfterTP:      ParsePercent(v.GetString("TP_AFTER_TP")),
		Leverages:              ParseLeverages(v.GetString("LEVERAGES")),
		LimitOrders:            ParsePercentPairs(v.GetString("LIMIT_ORDERS")),
		AllowExtra:             v.GetBool("ALLOW_EXTRA_POSITION"),
		SetExtraEvery:          v.GetInt("SET_EXTRA_EVERY"),
		ExtraIntervalPercent:   ParsePercent(v.GetString("EXTRA_INTERVAL_PERCENT")),
		OnlyPnl:                v.GetBool("ONLY_PNL"),
		CreatePositions:        !v.GetBool("DONT_CREATE_POSITIONS"),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			return errs.Config("config validation: %s", strings.Join(fields, "; "))
		}
		return errs.Config("config validation: %v", err)
	}
	return nil
}
