package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	Environment     string
	FirebaseProject string
	StorageBucket   string

	// DataBackend selects "firestore" or the in-process "memory" platform.
	DataBackend string

	// Credentials: inline JSON wins over the file path.
	ServiceAccountJSON string
	ServiceAccountPath string

	// CheckTokenRevoked adds a revocation lookup to every token check.
	CheckTokenRevoked bool

	MaxAttachments       int
	MaxAttachmentBytes   int64
	CleanupFailedUploads bool

	SendRatePerMinute             int
	CreateConversationRatePerHour int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		FirebaseProject: getEnv("FIREBASE_PROJECT_ID", ""),
		StorageBucket:   getEnv("STORAGE_BUCKET", ""),
		DataBackend:     getEnv("DATA_BACKEND", "firestore"),

		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		CheckTokenRevoked:  getEnvAsBool("CHECK_TOKEN_REVOKED", false),

		MaxAttachments:       int(getEnvAsInt64("MAX_ATTACHMENTS", 10)),
		MaxAttachmentBytes:   getEnvAsInt64("MAX_ATTACHMENT_BYTES", 25<<20),
		CleanupFailedUploads: getEnvAsBool("CLEANUP_FAILED_UPLOADS", true),

		SendRatePerMinute:             int(getEnvAsInt64("SEND_RATE_PER_MINUTE", 30)),
		CreateConversationRatePerHour: int(getEnvAsInt64("CREATE_CONVERSATION_RATE_PER_HOUR", 20)),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}
