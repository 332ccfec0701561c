// Copyright 2026 gorse Project Authors
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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/gorse-io/bandmate/base/encoding"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/cmd/version"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/logics"
	"github.com/gorse-io/bandmate/model"
	"github.com/gorse-io/bandmate/server"
	"github.com/gorse-io/bandmate/storage/cache"
	"github.com/gorse-io/bandmate/storage/data"
	"github.com/gorse-io/bandmate/trainer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "bandmate",
	Short: "Artist recommendations from listening histories.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Build a snapshot from the data store and save it to the artifact store.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		defer setupTracing(cfg)()
		bundle, err := trainer.Train(ctx, cfg, trainer.Options{Progress: os.Stderr})
		if err != nil {
			log.Logger().Fatal("failed to train", zap.Error(err))
		}
		fmt.Printf("Saved snapshot %s to %s\n", bundle.SnapshotId, cfg.Artifact.Name)
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Recommend artists to a user.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		n := cfg.Recommend.NumRecommendations
		if cmd.Flags().Changed("n") {
			n, _ = cmd.Flags().GetInt("n")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			log.CloseLogger()
		}
		snapshot, err := trainer.Load(context.Background(), cfg)
		if err != nil {
			log.Logger().Fatal("failed to load snapshot", zap.Error(err))
		}
		scores, err := snapshot.Recommender.Recommend(args[0], n)
		if err != nil {
			log.Logger().Fatal("failed to recommend", zap.Error(err))
		}
		if asJSON {
			err = printJSON(os.Stdout, scores)
		} else {
			err = printRecommendations(os.Stdout, snapshot.Bundle, scores)
		}
		if err != nil {
			log.Logger().Fatal("failed to print recommendations", zap.Error(err))
		}
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		defer setupTracing(cfg)()
		snapshot, err := trainer.Load(ctx, cfg)
		if err != nil {
			log.Logger().Fatal("failed to load snapshot", zap.Error(err))
		}
		cacheClient, err := cache.Open(cfg.Server.CacheStore, cfg.Server.CacheTTL)
		if err != nil {
			log.Logger().Fatal("failed to open cache store", zap.Error(err))
		}
		defer cacheClient.Close()
		var dataClient data.Source
		if dataClient, err = trainer.OpenSource(cfg); err != nil {
			log.Logger().Warn("failed to open data store, inserting preferences is disabled", zap.Error(err))
		} else {
			defer dataClient.Close()
		}
		if err = server.NewServer(cfg, snapshot, cacheClient, dataClient).Serve(ctx); err != nil {
			log.Logger().Fatal("failed to serve", zap.Error(err))
		}
	},
}

var statsCommand = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics of interaction weights.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		defer setupTracing(cfg)()
		stats, err := trainer.Stats(context.Background(), cfg, trainer.Options{Progress: os.Stderr})
		if err != nil {
			log.Logger().Fatal("failed to compute statistics", zap.Error(err))
		}
		if err = printStats(os.Stdout, stats); err != nil {
			log.Logger().Fatal("failed to print statistics", zap.Error(err))
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show build information.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
		fmt.Printf("Bundle format:\t %d\n", model.FormatVersion)
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return cfg
}

// setupTracing installs the global tracer provider. The returned function
// flushes pending spans.
func setupTracing(cfg *config.Config) func() {
	tp, err := cfg.Tracing.NewTracerProvider()
	if err != nil {
		log.Logger().Fatal("failed to create trace provider", zap.Error(err))
	}
	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(log.GetErrorHandler())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Logger().Error("failed to shutdown trace provider", zap.Error(err))
		}
	}
}

func printJSON(w io.Writer, scores []logics.Score) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(scores)
}

func printRecommendations(w io.Writer, bundle *model.Bundle, scores []logics.Score) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Artist", "Name", "Score")
	for i, score := range scores {
		if err := table.Append([]string{strconv.Itoa(i + 1), score.ArtistId, bundle.ArtistName(score.ArtistId), encoding.FormatFloat(score.Score)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func printStats(w io.Writer, stats dataset.WeightStats) error {
	table := tablewriter.NewWriter(w)
	table.Header("Statistic", "Value")
	rows := [][]string{
		{"count", strconv.Itoa(stats.Count)},
		{"mean", encoding.FormatFloat(stats.Mean)},
		{"std", encoding.FormatFloat(stats.StdDev)},
		{"min", encoding.FormatFloat(stats.Min)},
		{"25%", encoding.FormatFloat(stats.Q1)},
		{"50%", encoding.FormatFloat(stats.Median)},
		{"75%", encoding.FormatFloat(stats.Q3)},
		{"max", encoding.FormatFloat(stats.Max)},
		{"suggested weight", strconv.FormatInt(stats.SuggestedWeight(), 10)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommended artists")
	recommendCommand.Flags().Bool("json", false, "print recommendations as JSON")
	rootCommand.AddCommand(trainCommand, recommendCommand, serveCommand, statsCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute command", zap.Error(err))
	}
}
