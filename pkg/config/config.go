package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Database   struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	SecretAES string `mapstructure:"SECRET_AES"`
	Payment   struct {
		DefaultCurrency           string        `mapstructure:"DEFAULT_CURRENCY"`
		AllowedCurrencies         []string      `mapstructure:"ALLOWED_CURRENCIES"`
		ReconciliationGracePeriod time.Duration `mapstructure:"RECONCILIATION_GRACE_PERIOD"`
		ReconcileSchedule         string        `mapstructure:"RECONCILE_SCHEDULE"`
		GatewayTimeout            time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	} `mapstructure:"PAYMENT"`
	Payout struct {
		MinimumThreshold string            `mapstructure:"MINIMUM_THRESHOLD"`
		CycleSchedule    string            `mapstructure:"CYCLE_SCHEDULE"`
		Allocations      []AllocationEntry `mapstructure:"ALLOCATIONS"`
		Destinations     []Destination     `mapstructure:"DESTINATIONS"`
	} `mapstructure:"PAYOUT"`
	Gateways struct {
		PayFast struct {
			MerchantID  string `mapstructure:"MERCHANT_ID"`
			MerchantKey string `mapstructure:"MERCHANT_KEY"`
			Passphrase  string `mapstructure:"PASSPHRASE"`
			LiveMode    bool   `mapstructure:"LIVE_MODE"`
			ReturnURL   string `mapstructure:"RETURN_URL"`
			CancelURL   string `mapstructure:"CANCEL_URL"`
			NotifyURL   string `mapstructure:"NOTIFY_URL"`
		} `mapstructure:"PAYFAST"`
		Stripe struct {
			SecretKey     string `mapstructure:"SECRET_KEY"`
			WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
			BaseURL       string `mapstructure:"BASE_URL"`
		} `mapstructure:"STRIPE"`
		EFT struct {
			BankName      string `mapstructure:"BANK_NAME"`
			AccountName   string `mapstructure:"ACCOUNT_NAME"`
			AccountNumber string `mapstructure:"ACCOUNT_NUMBER"`
			BranchCode    string `mapstructure:"BRANCH_CODE"`
		} `mapstructure:"EFT"`
		FNB struct {
			BaseURL       string `mapstructure:"BASE_URL"`
			ClientID      string `mapstructure:"CLIENT_ID"`
			ClientSecret  string `mapstructure:"CLIENT_SECRET"`
			AccountNumber string `mapstructure:"ACCOUNT_NUMBER"`
			LiveMode      bool   `mapstructure:"LIVE_MODE"`
		} `mapstructure:"FNB"`
		RNB struct {
			BaseURL       string `mapstructure:"BASE_URL"`
			APIKey        string `mapstructure:"API_KEY"`
			AccountNumber string `mapstructure:"ACCOUNT_NUMBER"`
		} `mapstructure:"RNB"`
	} `mapstructure:"GATEWAYS"`
}

// AllocationEntry is one row of the configured allocation table. Order
// matters: the last entry absorbs the rounding remainder.
type AllocationEntry struct {
	Category   string `mapstructure:"CATEGORY"`
	Percentage string `mapstructure:"PERCENTAGE"`
}

// Destination binds a payout category to a bank account. AccountNumber is
// an AES-GCM blob and stays encrypted until transfer time.
type Destination struct {
	Category      string `mapstructure:"CATEGORY"`
	Institution   string `mapstructure:"INSTITUTION"`
	AccountName   string `mapstructure:"ACCOUNT_NAME"`
	AccountNumber string `mapstructure:"ACCOUNT_NUMBER"`
	BranchCode    string `mapstructure:"BRANCH_CODE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}
