// Copyright 2025 muse Project Authors
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

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the recommendation engine.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
}

type DatabaseConfig struct {
	// database for meta data, ratings, similarities and candidates
	DataStore string `mapstructure:"data_store" validate:"required,data_store"`
	// naming prefix for tables
	TablePrefix string `mapstructure:"table_prefix"`
}

type RecommendConfig struct {
	// number of recommendations in a composed list
	ListSize int `mapstructure:"list_size" validate:"gt=0"`
	// number of similarity-ranked neighbors consulted per candidate refresh
	NeighborhoodSize int `mapstructure:"neighborhood_size" validate:"gt=0"`
	// hard cap on persisted collaborative candidates per user
	CandidateCap int `mapstructure:"candidate_cap" validate:"gt=0"`
	// batched similarity inserts are flushed every flush_size rows
	FlushSize int `mapstructure:"flush_size" validate:"gt=0"`
	// number of parallel workers for batch refresh jobs
	NumJobs int `mapstructure:"num_jobs" validate:"gt=0"`
}

type EvaluationConfig struct {
	// demographic dimensions balanced during group assignment
	Composition []string `mapstructure:"composition" validate:"dive,oneof=age gender lang"`
}

// GetDefaultConfig returns a configuration with default values.
func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "sqlite://muse.db",
		},
		Recommend: RecommendConfig{
			ListSize:         10,
			NeighborhoodSize: 20,
			CandidateCap:     200,
			FlushSize:        1000,
			NumJobs:          1,
		},
		Evaluation: EvaluationConfig{
			Composition: []string{"age", "gender", "lang"},
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [recommend]
	viper.SetDefault("recommend.list_size", defaultConfig.Recommend.ListSize)
	viper.SetDefault("recommend.neighborhood_size", defaultConfig.Recommend.NeighborhoodSize)
	viper.SetDefault("recommend.candidate_cap", defaultConfig.Recommend.CandidateCap)
	viper.SetDefault("recommend.flush_size", defaultConfig.Recommend.FlushSize)
	viper.SetDefault("recommend.num_jobs", defaultConfig.Recommend.NumJobs)
	// [evaluation]
	viper.SetDefault("evaluation.composition", defaultConfig.Evaluation.Composition)
}

// LoadConfig loads and validates the configuration from a TOML file.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks invariants the type system cannot express.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		prefixes := []string{"sqlite://", "mysql://", "postgres://", "postgresql://"}
		for _, prefix := range prefixes {
			if strings.HasPrefix(fl.Field().String(), prefix) {
				return true
			}
		}
		return false
	}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(validate.Struct(config))
}
