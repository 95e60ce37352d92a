/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"

	"github.com/tomoncle/rowswap/utils"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML configuration file, fills defaults for unset
// values and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration data. See LoadConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		RepositoryConfig: DefaultRepositoryConfig(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	overrideConnectionFromEnv(&cfg.ConnectionConfig)
	overrideRepositoryFromEnv(&cfg.RepositoryConfig)
	return cfg, nil
}

func overrideRepositoryFromEnv(cfg *RepositoryConfig) {
	cfg.ExecutionModel = utils.EnvDefaultString("REPO_EXECUTION_MODEL", cfg.ExecutionModel)
	cfg.MaxConcurrency = utils.EnvDefaultInt("REPO_MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.KeyChunkSize = utils.EnvDefaultInt("REPO_KEY_CHUNK_SIZE", cfg.KeyChunkSize)
}

// overrideConnectionFromEnv overrides connection values from DB_* variables.
func overrideConnectionFromEnv(cfg *ConnectionConfig) {
	cfg.Type = utils.EnvDefaultString("DB_TYPE", cfg.Type)
	cfg.Host = utils.EnvDefaultString("DB_HOST", cfg.Host)
	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.DBName = utils.EnvDefaultString("DB_NAME", cfg.DBName)
	cfg.DSN = utils.EnvDefaultString("DB_DSN", cfg.DSN)
	cfg.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cfg.SSLMode)

	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = utils.EnvDefaultDuration("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)

	cfg.EnableReconnect = utils.EnvDefaultBool("DB_ENABLE_RECONNECT", cfg.EnableReconnect)
	cfg.ReconnectInterval = utils.EnvDefaultDuration("DB_RECONNECT_INTERVAL", cfg.ReconnectInterval)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
}
