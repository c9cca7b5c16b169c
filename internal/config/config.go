package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is populated from environment variables. In a cluster deployment
// the DB, AWS and queue settings arrive as pod env vars; the defaults below
// cover local docker-compose development.
type Config struct {
	DBHost              string        `mapstructure:"DB_HOST"`
	DBPort              string        `mapstructure:"DB_PORT"`
	DBUser              string        `mapstructure:"DB_USER"`
	DBPassword          string        `mapstructure:"DB_PASSWORD"`
	DBName              string        `mapstructure:"DB_NAME"`
	ServerPort          string        `mapstructure:"SERVER_PORT"`
	AWSRegion           string        `mapstructure:"AWS_REGION"`
	PayrollSQSQueueURL  string        `mapstructure:"PAYROLL_SQS_QUEUE_URL"`
	NotifySQSQueueURL   string        `mapstructure:"NOTIFY_SQS_QUEUE_URL"`
	AWSEndpoint         string        `mapstructure:"AWS_ENDPOINT"`
	PayrollAPIURL       string        `mapstructure:"PAYROLL_API_URL"`
	LocationGatewayURL  string        `mapstructure:"LOCATION_GATEWAY_URL"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	SummarySenderEmail  string        `mapstructure:"SUMMARY_SENDER_EMAIL"`
	ShiftStart          string        `mapstructure:"SHIFT_START"`
	ShiftGracePeriod    time.Duration `mapstructure:"SHIFT_GRACE_PERIOD"`
	IsLocalDev          bool          `mapstructure:"IS_LOCAL_DEV"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "attendance_db")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AWS_REGION", "us-east-1") // Default region for AWS services
	viper.SetDefault("PAYROLL_SQS_QUEUE_URL", "http://localstack:4566/000000000000/payroll-queue")
	viper.SetDefault("NOTIFY_SQS_QUEUE_URL", "http://localstack:4566/000000000000/notify-queue")
	viper.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	viper.SetDefault("PAYROLL_API_URL", "http://localhost:8081/")
	viper.SetDefault("LOCATION_GATEWAY_URL", "http://localhost:8082")
	viper.SetDefault("JWT_SECRET", "dev-secret")
	viper.SetDefault("SUMMARY_SENDER_EMAIL", "attendance@attendance-service.com")
	viper.SetDefault("SHIFT_START", "09:00")
	viper.SetDefault("SHIFT_GRACE_PERIOD", "10m")
	viper.SetDefault("IS_LOCAL_DEV", false)

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	err = viper.Unmarshal(&config)
	return
}

// DSN renders the Postgres connection string shared by the pooled
// connection and the change-stream listeners.
func (c Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=disable"
}
