// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/bandmate/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config is the configuration for bandmate.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	S3        S3Config        `mapstructure:"s3"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Azure     AzureBlobConfig `mapstructure:"azure"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the record source.
type DatabaseConfig struct {
	DataStore         string `mapstructure:"data_store" validate:"required"`
	InteractionsTable string `mapstructure:"interactions_table" validate:"required"`
	ArtistsTable      string `mapstructure:"artists_table" validate:"required"`
	BatchSize         int    `mapstructure:"batch_size" validate:"gt=0"`
}

type RecommendConfig struct {
	NumNeighbors       int `mapstructure:"n_neighbors" validate:"gt=0"`
	NumRecommendations int `mapstructure:"n_recommendations" validate:"gt=0"`
	NumJobs            int `mapstructure:"jobs" validate:"gt=0"`
}

// ArtifactConfig locates the trained bundle.
type ArtifactConfig struct {
	Store string `mapstructure:"store" validate:"required,artifact_store"`
	Name  string `mapstructure:"name" validate:"required,excludes=/"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host       string        `mapstructure:"host" validate:"required"`
	Port       int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey     string        `mapstructure:"api_key"`
	CacheStore string        `mapstructure:"cache_store" validate:"cache_store"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

const (
	FilePrefix      = "file://"
	S3Prefix        = "s3://"
	GCSPrefix       = "gcs://"
	AzureBlobPrefix = "azblob://"
)

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			InteractionsTable: "user_artists",
			ArtistsTable:      "artists",
			BatchSize:         1024,
		},
		Recommend: RecommendConfig{
			NumNeighbors:       25,
			NumRecommendations: 10,
			NumJobs:            1,
		},
		Artifact: ArtifactConfig{
			Name: "bandmate.bundle",
		},
		S3: S3Config{
			UseSSL: true,
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8087,
			CacheTTL: 10 * time.Minute,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.interactions_table", defaultConfig.Database.InteractionsTable)
	v.SetDefault("database.artists_table", defaultConfig.Database.ArtistsTable)
	v.SetDefault("database.batch_size", defaultConfig.Database.BatchSize)
	// [recommend]
	v.SetDefault("recommend.n_neighbors", defaultConfig.Recommend.NumNeighbors)
	v.SetDefault("recommend.n_recommendations", defaultConfig.Recommend.NumRecommendations)
	v.SetDefault("recommend.jobs", defaultConfig.Recommend.NumJobs)
	// [artifact]
	v.SetDefault("artifact.name", defaultConfig.Artifact.Name)
	// [s3]
	v.SetDefault("s3.use_ssl", defaultConfig.S3.UseSSL)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.cache_ttl", defaultConfig.Server.CacheTTL)
	// [tracing]
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type environmentBinding struct {
	key string
	env string
}

var environmentBindings = []environmentBinding{
	{"database.data_store", "BANDMATE_DATA_STORE"},
	{"artifact.store", "BANDMATE_ARTIFACT_STORE"},
	{"s3.endpoint", "BANDMATE_S3_ENDPOINT"},
	{"s3.access_key_id", "BANDMATE_S3_ACCESS_KEY_ID"},
	{"s3.secret_access_key", "BANDMATE_S3_SECRET_ACCESS_KEY"},
	{"gcs.credentials_file", "BANDMATE_GCS_CREDENTIALS_FILE"},
	{"azure.connection_string", "BANDMATE_AZURE_CONNECTION_STRING"},
	{"azure.account_name", "BANDMATE_AZURE_ACCOUNT_NAME"},
	{"azure.account_key", "BANDMATE_AZURE_ACCOUNT_KEY"},
	{"server.host", "BANDMATE_SERVER_HOST"},
	{"server.port", "BANDMATE_SERVER_PORT"},
	{"server.api_key", "BANDMATE_API_KEY"},
	{"server.cache_store", "BANDMATE_CACHE_STORE"},
	{"tracing.collector_endpoint", "BANDMATE_TRACING_COLLECTOR_ENDPOINT"},
}

// LoadConfig loads configuration from a TOML file. Environment variables take
// precedence over the file. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range environmentBindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration and reports every violation in one error.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("artifact_store", func(fl validator.FieldLevel) bool {
		store := fl.Field().String()
		if !strings.Contains(store, "://") {
			return true
		}
		prefixes := []string{FilePrefix, S3Prefix, GCSPrefix, AzureBlobPrefix}
		return lo.ContainsBy(prefixes, func(prefix string) bool {
			return strings.HasPrefix(store, prefix) && len(store) > len(prefix)
		})
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("cache_store", func(fl validator.FieldLevel) bool {
		store := fl.Field().String()
		return store == "" ||
			strings.HasPrefix(store, storage.RedisPrefix) ||
			strings.HasPrefix(store, storage.RedissPrefix)
	}); err != nil {
		return errors.Trace(err)
	}

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return errors.Trace(err)
	}
	for _, tag := range []string{"artifact_store", "cache_store"} {
		if err := validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
			return ut.Add(tag, "{0} has an unsupported scheme", true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(fe.Tag(), fe.Namespace())
			return t
		}); err != nil {
			return errors.Trace(err)
		}
	}

	err := validate.Struct(config)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := lo.Map(validationErrors, func(fe validator.FieldError, _ int) string {
				return fe.Translate(trans)
			})
			return errors.NotValidf("config: %s", strings.Join(messages, "; "))
		}
		return errors.Trace(err)
	}
	return nil
}
