package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	ML        MLConfig
	Training  TrainingConfig
	Artifacts ArtifactsConfig
	Kafka     KafkaConfig
	MQTT      MQTTConfig
	GRPC      GRPCConfig
	Journal   JournalConfig
}

type ServerConfig struct {
	Port                string
	Mode                string // gin mode: debug, release, test
	Env                 string
	CORSOrigins         []string
	PatientsRequireAuth bool
	ShutdownTimeout     time.Duration
	UploadLimitBytes    int64
}

type DatabaseConfig struct {
	Driver         string // postgres | sqlite
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	TimeZone       string
	SQLitePath     string
	ConnectRetries int
	RetryInterval  time.Duration
}

type JWTConfig struct {
	Secret          string
	AccessTokenExp  time.Duration
	RefreshTokenExp time.Duration
	Issuer          string
}

// MLConfig describes the label vocabulary and the expected feature width.
type MLConfig struct {
	FeatureWidth     int
	Labels           []string
	LabelNames       []string
	NormalLabel      string
	ClassifiedLabels []string
	ModelCacheSize   int
	IngestModelName  string
}

type TrainingConfig struct {
	MajorVersion    int
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Seed            int64
	Workers         int
	QueueSize       int
}

type ArtifactsConfig struct {
	Backend     string // local | s3
	ModelFolder string
	S3Bucket    string
	S3Prefix    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      int
	Topic    string
}

type GRPCConfig struct {
	Port string
}

type JournalConfig struct {
	Dir string
}

// Load собирает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                getEnv("HTTP_PORT", "8080"),
			Mode:                getEnv("GIN_MODE", "debug"),
			Env:                 getEnv("ENV", "development"),
			CORSOrigins:         getEnvAsList("CORS_ORIGINS", []string{"http://localhost:8080", "http://localhost:9000"}),
			PatientsRequireAuth: getEnvAsBool("PATIENTS_REQUIRE_AUTH", false),
			ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			UploadLimitBytes:    int64(getEnvAsInt("UPLOAD_LIMIT_MB", 64)) << 20,
		},
		Database: DatabaseConfig{
			Driver:         getEnv("DB_DRIVER", "postgres"),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			DBName:         getEnv("DB_NAME", "arrhythmia"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			TimeZone:       getEnv("DB_TIMEZONE", "UTC"),
			SQLitePath:     getEnv("SQLITE_PATH", "arrhythmia.db"),
			ConnectRetries: getEnvAsInt("DB_CONNECT_RETRIES", 10),
			RetryInterval:  getEnvAsDuration("DB_RETRY_INTERVAL", 3*time.Second),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			AccessTokenExp:  getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTokenExp: getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			Issuer:          getEnv("JWT_ISSUER", "arrhythmia-classifier"),
		},
		ML: MLConfig{
			FeatureWidth:     getEnvAsInt("FEATURE_WIDTH", 187),
			Labels:           getEnvAsList("LABELS", []string{"0", "1", "2", "3", "4"}),
			LabelNames:       getEnvAsList("LABEL_NAMES", []string{"Normal", "Supraventricular", "Ventricular", "Fusion", "Unknown"}),
			NormalLabel:      getEnv("NORMAL_LABEL", "Normal"),
			ClassifiedLabels: getEnvAsList("CLASSIFIED_ARRHYTHMIA_LABELS", []string{"Supraventricular", "Ventricular", "Fusion"}),
			ModelCacheSize:   getEnvAsInt("MODEL_CACHE_SIZE", 4),
			IngestModelName:  getEnv("MQTT_MODEL_NAME", "latest"),
		},
		Training: TrainingConfig{
			MajorVersion:    getEnvAsInt("MAJOR_VERSION", 1),
			Epochs:          getEnvAsInt("TRAIN_EPOCHS", 10),
			BatchSize:       getEnvAsInt("TRAIN_BATCH_SIZE", 64),
			ValidationSplit: getEnvAsFloat("TRAIN_VALIDATION_SPLIT", 0.2),
			Seed:            int64(getEnvAsInt("TRAIN_SEED", 42)),
			Workers:         getEnvAsInt("TRAIN_WORKERS", 1),
			QueueSize:       getEnvAsInt("TRAIN_QUEUE_SIZE", 8),
		},
		Artifacts: ArtifactsConfig{
			Backend:     getEnv("ARTIFACT_BACKEND", "local"),
			ModelFolder: getEnv("MODEL_FOLDER", "model"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Prefix:    getEnv("S3_PREFIX", "models/"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "arrhythmia-events"),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "arrhythmia_classifier"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      getEnvAsInt("MQTT_QOS", 1),
			Topic:    getEnv("MQTT_TOPIC", "medical/ecg/+/heartbeat"),
		},
		GRPC: GRPCConfig{
			Port: getEnv("GRPC_PORT", "50051"),
		},
		Journal: JournalConfig{
			Dir: getEnv("JOURNAL_DIR", "data/journal"),
		},
	}
}

// getEnv получает переменную окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает переменную окружения как int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
