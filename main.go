// Command distillrl trains student audio embedding models by
// distillation and offline SNR agents from demonstrations.
//
//	distillrl train --file_patterns=data/*.tfrecord --samples_key=audio \
//		--target_key=embedding --mt=mlp_256 --shuffle_buffer_size=64 \
//		--logdir=runs/distill
//	distillrl collect --output=pendulum.gob
//	distillrl snr --demonstrations=pendulum.gob
//
// Every flag may also be set in a YAML config file passed with
// --config or through an environment variable named DISTILL_<FLAG>,
// e.g. DISTILL_MODEL_TYPE.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/samuelfneumann/distillrl/logging"
	"github.com/samuelfneumann/distillrl/metrics"
)

// envPrefix prefixes the environment variables read by viper
const envPrefix = "DISTILL"

// aliases maps the short names of flags to their full names
var aliases = map[string]string{
	"mt":  "model_type",
	"tbs": "train_batch_size",
	"msl": "max_sample_length",
	"e":   "num_epochs",
}

// normalize resolves flag aliases
func normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if full, ok := aliases[name]; ok {
		name = full
	}
	return pflag.NormalizedName(name)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "distillrl",
		Short:         "Distillation training and offline SNR agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("log_level", "info",
		"log level (debug|info|warn|error)")
	root.PersistentFlags().String("log_format", logging.Console,
		"log format (json|console)")

	root.AddCommand(newTrainCmd(), newSNRCmd(), newCollectCmd())
	return root
}

// newViper returns a viper bound to the flags of cmd, the environment
// and the config file named by --config
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("newViper: %w", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("newViper: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("newViper: could not read config: %w",
				err)
		}
	}
	return v, nil
}

// setup returns the viper and zap logger of cmd
func setup(cmd *cobra.Command) (*viper.Viper, *zap.Logger, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(v.GetString("log_level"),
		v.GetString("log_format"))
	if err != nil {
		return nil, nil, err
	}
	return v, logger, nil
}

// serveMetrics serves the metrics of c at addr in the background. The
// returned function stops the server.
func serveMetrics(addr string, c *metrics.Collector,
	logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		shutdown, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdown); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
