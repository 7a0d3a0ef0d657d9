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
package main

import (
	"context"
	"fmt"

	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/cmd/version"
	"github.com/muse-io/muse/config"
	"github.com/muse-io/muse/logics"
	"github.com/muse-io/muse/storage/data"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var museCommand = &cobra.Command{
	Use:   "muse",
	Short: "The batch refresh job of the muse recommender",
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)
		defer log.CloseLogger()

		// load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}

		// open data store
		db, err := data.Open(conf.Database.DataStore, conf.Database.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to connect data store",
				zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)), zap.Error(err))
		}
		if err = db.Init(); err != nil {
			log.Logger().Fatal("failed to init data store", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Logger().Error("failed to close data store", zap.Error(err))
			}
		}()

		// refresh similarities and candidates
		refresher := logics.NewRefresher(db, conf)
		if err = refresher.Refresh(context.Background()); err != nil {
			log.Logger().Fatal("failed to refresh recommendations", zap.Error(err))
		}
	},
}

func init() {
	log.AddFlags(museCommand.PersistentFlags())
	museCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	museCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	museCommand.PersistentFlags().BoolP("version", "v", false, "muse version")
}

func main() {
	if err := museCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
