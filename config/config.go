package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Env          string
	Debug        bool
	LogLevel     string
	Server       Server
	Database     Database
	Auth         Auth
	OTP          OTP
	Exam         Exam
	Certificate  Certificate
	Mail         Mail
	GeminiApiKey string
	RollbarToken string
}

type Server struct {
	Port string
}

type Database struct {
	Driver   string // "postgres" or "memory"
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type Auth struct {
	JWTSecret string
}

type OTP struct {
	TTL            time.Duration
	ResendInterval time.Duration
	ResendBurst    int
	MaxFailures    int
	CodeLength     int
	// ExposeCode returns the generated code in API responses. Never enable in production.
	ExposeCode bool
}

type Exam struct {
	SweepInterval time.Duration
	SweepBatch    int
}

type Certificate struct {
	NumberPrefix string
}

type Mail struct {
	SendgridApiKey string
	FromEmail      string
	FromName       string
}

func NewConfig() (*Config, error) {
	// .env.local overrides .env on developer machines; missing file is fine
	if err := godotenv.Load(".env.local"); err == nil {
		log.Info().Msg("Loaded .env.local overrides")
	}

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Error reading config file")
	}

	var config Config

	config.Env = viper.GetString("APP_ENV")
	config.Debug = viper.GetBool("APP_DEBUG")
	config.LogLevel = viper.GetString("LOG_LEVEL")

	config.Server.Port = viper.GetString("SERVER_PORT")
	config.Database.Driver = viper.GetString("DATABASE_DRIVER")
	config.Database.Host = viper.GetString("DATABASE_HOST")
	config.Database.Port = viper.GetString("DATABASE_PORT")
	config.Database.User = viper.GetString("DATABASE_USER")
	config.Database.Password = viper.GetString("DATABASE_PASSWORD")
	config.Database.Name = viper.GetString("DATABASE_NAME")
	config.Database.SSLMode = viper.GetString("DATABASE_SSLMODE")

	config.Auth.JWTSecret = viper.GetString("JWT_SECRET")

	config.OTP.TTL = viper.GetDuration("OTP_TTL")
	config.OTP.ResendInterval = viper.GetDuration("OTP_RESEND_INTERVAL")
	config.OTP.ResendBurst = viper.GetInt("OTP_RESEND_BURST")
	config.OTP.MaxFailures = viper.GetInt("OTP_MAX_FAILURES")
	config.OTP.CodeLength = viper.GetInt("OTP_CODE_LENGTH")
	config.OTP.ExposeCode = viper.GetBool("OTP_EXPOSE_CODE")

	config.Exam.SweepInterval = viper.GetDuration("EXAM_SWEEP_INTERVAL")
	config.Exam.SweepBatch = viper.GetInt("EXAM_SWEEP_BATCH")

	config.Certificate.NumberPrefix = viper.GetString("CERTIFICATE_NUMBER_PREFIX")

	config.Mail.SendgridApiKey = viper.GetString("SENDGRID_API_KEY")
	config.Mail.FromEmail = viper.GetString("MAIL_FROM_EMAIL")
	config.Mail.FromName = viper.GetString("MAIL_FROM_NAME")

	config.GeminiApiKey = viper.GetString("GEMINI_API_KEY")
	config.RollbarToken = viper.GetString("ROLLBAR_TOKEN")

	if config.Env == "production" && config.OTP.ExposeCode {
		log.Warn().Msg("OTP_EXPOSE_CODE is ignored in production")
		config.OTP.ExposeCode = false
	}

	log.Info().
		Str("env", config.Env).
		Str("port", config.Server.Port).
		Str("dbDriver", config.Database.Driver).
		Str("dbHost", config.Database.Host).
		Dur("otpTTL", config.OTP.TTL).
		Bool("debug", config.Debug).
		Msg("Config loaded")
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_DEBUG", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_DRIVER", "postgres")
	viper.SetDefault("DATABASE_PORT", "5432")
	viper.SetDefault("DATABASE_SSLMODE", "disable")
	viper.SetDefault("OTP_TTL", 120*time.Second)
	viper.SetDefault("OTP_RESEND_INTERVAL", 30*time.Second)
	viper.SetDefault("OTP_RESEND_BURST", 3)
	viper.SetDefault("OTP_MAX_FAILURES", 5)
	viper.SetDefault("OTP_CODE_LENGTH", 6)
	viper.SetDefault("OTP_EXPOSE_CODE", false)
	viper.SetDefault("EXAM_SWEEP_INTERVAL", 30*time.Second)
	viper.SetDefault("EXAM_SWEEP_BATCH", 100)
	viper.SetDefault("CERTIFICATE_NUMBER_PREFIX", "PDEK")
	viper.SetDefault("MAIL_FROM_EMAIL", "noreply@localhost")
	viper.SetDefault("MAIL_FROM_NAME", "Safety Training Center")
}
