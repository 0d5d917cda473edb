package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/samuelfneumann/distillrl/dataset"
	"github.com/samuelfneumann/distillrl/distill"
	"github.com/samuelfneumann/distillrl/metrics"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a student audio embedding model by distillation",
		RunE:  runTrain,
	}

	d := distill.DefaultConfig()
	f := cmd.Flags()
	f.SetNormalizeFunc(normalize)
	f.StringSlice("file_patterns", nil, "Dataset location.")
	f.String("samples_key", "", "Samples name.")
	f.String("target_key", "",
		"Teacher embedding key in precomputed tf.Examples.")
	f.String("model_type", "", "Specification for student model.")
	f.Int("train_batch_size", d.BatchSize, "Hyperparameter: batch size.")
	f.Int("max_sample_length", d.MaxSampleLength, "Max samples length.")
	f.Int("shuffle_buffer_size", 0, "shuffle_buffer_size")
	f.Float64("lr", d.LearningRate, "Hyperparameter: learning rate.")
	f.String("logdir", "", "Path to directory where to store summaries.")
	f.Int("training_steps", d.TrainingSteps,
		"The number of steps to run training for.")
	f.Int("measurement_store_interval", d.MeasurementStoreInterval,
		"The number of steps between storing objective value in "+
			"measurements.")
	f.Int("checkpoint_max_to_keep", 0,
		"Number of previous checkpoints to save to disk. Default (0) is "+
			"to store all checkpoints.")
	f.Int("num_epochs", d.NumEpochs, "Number of epochs to train for.")
	f.Int("target_dim", d.TargetDim, "Teacher embedding dimension.")
	f.Int("frame_hop", d.FrameHop, "Samples per frame of the student.")
	f.Int("log_interval", d.LogInterval,
		"The number of steps between progress lines.")
	f.Uint64("seed", 0, "Seed of weight initialization and shuffling.")
	f.String("metrics_addr", "",
		"Address to serve Prometheus metrics at, e.g. :9090.")
	f.Bool("debug", false, "Restore the latest checkpoint and exit.")
	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	v, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c := distill.Config{
		FilePatterns:             v.GetStringSlice("file_patterns"),
		SamplesKey:               v.GetString("samples_key"),
		TargetKey:                v.GetString("target_key"),
		ModelType:                v.GetString("model_type"),
		TargetDim:                v.GetInt("target_dim"),
		FrameHop:                 v.GetInt("frame_hop"),
		BatchSize:                v.GetInt("train_batch_size"),
		MaxSampleLength:          v.GetInt("max_sample_length"),
		ShuffleBufferSize:        v.GetInt("shuffle_buffer_size"),
		NumEpochs:                v.GetInt("num_epochs"),
		LearningRate:             v.GetFloat64("lr"),
		Seed:                     v.GetUint64("seed"),
		LogDir:                   v.GetString("logdir"),
		TrainingSteps:            v.GetInt("training_steps"),
		MeasurementStoreInterval: v.GetInt("measurement_store_interval"),
		CheckpointMaxToKeep:      v.GetInt("checkpoint_max_to_keep"),
		LogInterval:              v.GetInt("log_interval"),
		Debug:                    v.GetBool("debug"),
	}
	if err := c.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx := cmd.Context()
	source, err := dataset.NewFileSource(c.FilePatterns)
	if err != nil {
		return err
	}
	pipeline, err := dataset.New(ctx, source, c.Pipeline())
	if err != nil {
		return err
	}
	defer pipeline.Close()

	var opts []distill.Option
	if addr := v.GetString("metrics_addr"); addr != "" {
		collector := metrics.NewCollector("distill")
		stop := serveMetrics(addr, collector, logger)
		defer stop()
		opts = append(opts, distill.WithMetrics(collector))
	}

	trainer, err := distill.NewTrainer(c, pipeline, logger, opts...)
	if err != nil {
		logger.Error("could not create trainer", zap.Error(err))
		return err
	}
	defer trainer.Close()

	if err := trainer.Run(ctx); err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}
	return nil
}
