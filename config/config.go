package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinBcryptCost is the lowest password work factor a deployment may run with.
const MinBcryptCost = 12

type Config struct {
	Env        string
	LogLevel   string
	Version    string
	ServerPort int
	// RequestTimeout bounds every request except the batch sweeps.
	RequestTimeout time.Duration
	Database       DatabaseConfig
	Security       SecurityConfig
	Lifecycle      LifecycleConfig
	Retention      RetentionConfig
	Notify         NotifyConfig
	MQ             MQConfig
	Party          PartyConfig
	Reports        ReportsConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	UseSSL         bool
	ConnectTimeout time.Duration
}

// SecurityConfig is the static credential guarding every API endpoint.
type SecurityConfig struct {
	Username string
	Password string
}

type LifecycleConfig struct {
	MaxFailedLogins int
	BcryptCost      int
}

type RetentionConfig struct {
	FirstNotificationDays  int
	SecondNotificationDays int
	ThirdNotificationDays  int
	DeletionDays           int
	UnverifiedHours        int
}

type NotifyConfig struct {
	Enabled        bool
	Topic          string
	FirstTemplate  string
	SecondTemplate string
	ThirdTemplate  string
	PublishTimeout time.Duration
}

type MQConfig struct {
	Backend  string
	PubSub   PubSubConfig
	RabbitMQ RabbitMQConfig
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsFile string
}

type RabbitMQConfig struct {
	URL          string
	QueueDurable bool
}

type PartyConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

type ReportsConfig struct {
	Backend string
	GCS     GCSConfig
	Minio   MinioConfig
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnvInt("DB_PORT", 5432),
		User:           getEnv("DB_USER", "postgres"),
		Password:       getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "postgres"),
		UseSSL:         getEnvBool("DB_USE_SSL", false),
		ConnectTimeout: getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
	}

	projectID := getEnv("GOOGLE_CLOUD_PROJECT", "")

	return Config{
		Env:            getEnv("ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Version:        getEnv("VERSION", "0.3.0"),
		ServerPort:     getEnvInt("PORT", 8041),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		Database:       dbConfig,
		Security: SecurityConfig{
			Username: getEnv("SECURITY_USER_NAME", ""),
			Password: getEnv("SECURITY_USER_PASSWORD", ""),
		},
		Lifecycle: LifecycleConfig{
			MaxFailedLogins: getEnvInt("MAX_FAILED_LOGINS", 10),
			BcryptCost:      max(getEnvInt("BCRYPT_COST", MinBcryptCost), MinBcryptCost),
		},
		Retention: RetentionConfig{
			FirstNotificationDays:  getEnvInt("RETENTION_FIRST_NOTIFICATION_DAYS", 730),
			SecondNotificationDays: getEnvInt("RETENTION_SECOND_NOTIFICATION_DAYS", 913),
			ThirdNotificationDays:  getEnvInt("RETENTION_THIRD_NOTIFICATION_DAYS", 1065),
			DeletionDays:           getEnvInt("RETENTION_DELETION_DAYS", 1095),
			UnverifiedHours:        getEnvInt("RETENTION_UNVERIFIED_HOURS", 80),
		},
		Notify: NotifyConfig{
			Enabled:        getEnvBool("SEND_EMAIL_TO_GOV_NOTIFY", false),
			Topic:          getEnv("PUBSUB_TOPIC", "ras-rm-notify-test"),
			FirstTemplate:  getEnv("DUE_DELETION_FIRST_NOTIFICATION_TEMPLATE", ""),
			SecondTemplate: getEnv("DUE_DELETION_SECOND_NOTIFICATION_TEMPLATE", ""),
			ThirdTemplate:  getEnv("DUE_DELETION_THIRD_NOTIFICATION_TEMPLATE", ""),
			PublishTimeout: getEnvDuration("NOTIFY_PUBLISH_TIMEOUT", 30*time.Second),
		},
		MQ: MQConfig{
			Backend: getEnv("MQ_BACKEND", "pubsub"),
			PubSub: PubSubConfig{
				ProjectID:       projectID,
				CredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			},
			RabbitMQ: RabbitMQConfig{
				URL:          getEnv("RABBITMQ_URL", ""),
				QueueDurable: getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			},
		},
		Party: PartyConfig{
			URL:      getEnv("PARTY_URL", "http://localhost:8085"),
			Username: getEnv("PARTY_USERNAME", getEnv("SECURITY_USER_NAME", "")),
			Password: getEnv("PARTY_PASSWORD", getEnv("SECURITY_USER_PASSWORD", "")),
			Timeout:  getEnvDuration("PARTY_TIMEOUT", 10*time.Second),
		},
		Reports: ReportsConfig{
			Backend: getEnv("REPORT_BACKEND", ""),
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", projectID),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", ""),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(valueStr)) {
		case "1", "t", "true", "y", "yes", "on":
			return true
		case "0", "f", "false", "n", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
