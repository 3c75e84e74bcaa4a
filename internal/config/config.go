package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	DevMode        bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the daemon's settings. In dev mode the database
// DSN is unused and may be empty; everything runs on the in-memory
// backend.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, devMode bool) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" && !devMode {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		DevMode:        devMode,
	}, nil
}
