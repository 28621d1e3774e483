package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/recall/internal/profile"
	apiv1 "github.com/hrygo/recall/server/router/api/v1"
	"github.com/hrygo/recall/store"
	"github.com/hrygo/recall/store/db"
)

const greetingBanner = `
Recall - conversation intelligence server
`

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Conversation store with post-hoc analysis and semantic recall",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Secret:  "recall",
			Version: version,
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			return
		}

		logger := newLogger(instanceProfile)
		slog.SetDefault(logger)

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			logger.Error("failed to create db driver", "error", err)
			return
		}
		if err := dbDriver.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(echomiddleware.Recover())

		apiService := apiv1.NewAPIV1Service(instanceProfile.Secret, instanceProfile, storeInstance, logger)
		apiService.Register(e)
		go apiService.BackfillEmbeddings(ctx)

		address := fmt.Sprintf("%s:%d", instanceProfile.Addr, instanceProfile.Port)
		go func() {
			if err := e.Start(address); err != nil && err != http.ErrServerClosed {
				logger.Error("server stopped", "error", err)
				cancel()
			}
		}()

		fmt.Print(greetingBanner)
		logger.Info("server started",
			slog.String("version", instanceProfile.Version),
			slog.String("mode", instanceProfile.Mode),
			slog.String("address", address),
		)

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server gracefully", "error", err)
		}
	},
}

const version = "0.1.0"

// newLogger returns a text logger for dev and JSON for prod so log
// collectors get structured output.
func newLogger(p *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if p.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("data", "")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("dsn", "")

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("recall")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
