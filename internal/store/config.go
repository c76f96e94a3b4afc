package store

import (
	"fmt"

	"github.com/spf13/viper"
)

// NewDynamoConfig читает настройки бэкенда DynamoDB из файла и
// переменных окружения.
func NewDynamoConfig(path string) (*DynamoConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.BindEnv("Region", "DYNAMO_REGION")
	v.BindEnv("Endpoint", "DYNAMO_ENDPOINT")
	v.BindEnv("AccessKeyID", "DYNAMO_ACCESS_KEY_ID")
	v.BindEnv("SecretAccessKey", "DYNAMO_SECRET_ACCESS_KEY")
	v.BindEnv("Table", "DYNAMO_TABLE")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg DynamoConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}

	if cfg.Table == "" {
		return nil, fmt.Errorf("Table is required")
	}
	if cfg.Region == "" {
		cfg.Region = "ap-southeast-2"
	}

	return &cfg, nil
}
