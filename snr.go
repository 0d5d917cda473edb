package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/snr"
	"github.com/samuelfneumann/distillrl/counting"
	"github.com/samuelfneumann/distillrl/demonstrations"
	"github.com/samuelfneumann/distillrl/environment"
	"github.com/samuelfneumann/distillrl/environment/classiccontrol/pendulum"
	"github.com/samuelfneumann/distillrl/experiment"
	"github.com/samuelfneumann/distillrl/experiment/summary"
	"github.com/samuelfneumann/distillrl/experiment/trackers"
	"github.com/samuelfneumann/distillrl/logging"
	"github.com/samuelfneumann/distillrl/metrics"
)

func newSNRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snr",
		Short: "Train an offline SNR agent on Pendulum demonstrations",
		RunE:  runSNR,
	}

	d := snr.DefaultConfig()
	f := cmd.Flags()
	f.String("demonstrations", "", "Demonstrations written by collect.")
	f.Int("steps", 10000, "Number of learner steps.")
	f.Int("eval_interval", 1000, "Learner steps between evaluations.")
	f.Int("eval_episodes", 5, "Episodes per evaluation.")
	f.Int("episode_steps", 200, "Maximum steps of an episode.")
	f.Uint64("seed", 0, "Seed of the agent and environment.")
	f.String("config_json", "", "JSON file holding the agent config.")
	f.String("logdir", "", "Directory of summaries and returns.")
	f.String("metrics_addr", "",
		"Address to serve Prometheus metrics at, e.g. :9090.")

	f.Int("num_bc_iters", d.NumBCIters,
		"Initial steps training the policy by behaviour cloning.")
	f.Float64("entropy_coefficient", 0,
		"Fixed entropy temperature. Learned if unset.")
	f.Float64("target_entropy", d.TargetEntropy,
		"Target entropy of a learned temperature.")
	f.Bool("use_snr_in_bc_iters", d.UseSNRInBCIters,
		"Regularize during behaviour cloning.")
	f.String("snr_applied_to", string(d.SNRAppliedTo),
		"Networks regularized (policy|critic|both).")
	f.Float64("snr_alpha", d.SNRAlpha, "Regularization strength.")
	f.Float64("policy_lr", d.PolicyLR, "Policy learning rate.")
	f.Float64("q_lr", d.QLR, "Critic learning rate.")
	f.Int("batch_size", d.BatchSize, "Demonstrations per batch.")
	f.Float64("discount", d.Discount, "Discount factor.")
	f.Float64("tau", d.Tau, "Polyak averaging constant.")
	f.IntSlice("policy_layers", d.PolicyLayers, "Policy hidden layers.")
	f.IntSlice("critic_layers", d.CriticLayers, "Critic hidden layers.")
	return cmd
}

// snrConfig returns the agent config: defaults, then the JSON file
// named by config_json, then any flag or variable which is set.
func snrConfig(v *viper.Viper, cmd *cobra.Command) (snr.Config, error) {
	c := snr.DefaultConfig()
	if file := v.GetString("config_json"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return snr.Config{}, fmt.Errorf("snrConfig: %w", err)
		}
		if c, err = decodeSNRConfig(data, c); err != nil {
			return snr.Config{}, fmt.Errorf("snrConfig: could not decode "+
				"%v: %w", file, err)
		}
	}

	set := func(name string) bool {
		return cmd.Flags().Changed(name) || v.InConfig(name) ||
			os.Getenv(envPrefix+"_"+strings.ToUpper(name)) != ""
	}
	if set("num_bc_iters") {
		c.NumBCIters = v.GetInt("num_bc_iters")
	}
	if set("entropy_coefficient") {
		alpha := v.GetFloat64("entropy_coefficient")
		c.EntropyCoefficient = &alpha
	}
	if set("target_entropy") {
		c.TargetEntropy = v.GetFloat64("target_entropy")
	}
	if set("use_snr_in_bc_iters") {
		c.UseSNRInBCIters = v.GetBool("use_snr_in_bc_iters")
	}
	if set("snr_applied_to") {
		c.SNRAppliedTo = snr.AppliedTo(v.GetString("snr_applied_to"))
	}
	if set("snr_alpha") {
		c.SNRAlpha = v.GetFloat64("snr_alpha")
	}
	if set("policy_lr") {
		c.PolicyLR = v.GetFloat64("policy_lr")
	}
	if set("q_lr") {
		c.QLR = v.GetFloat64("q_lr")
	}
	if set("batch_size") {
		c.BatchSize = v.GetInt("batch_size")
	}
	if set("discount") {
		c.Discount = v.GetFloat64("discount")
	}
	if set("tau") {
		c.Tau = v.GetFloat64("tau")
	}
	if set("policy_layers") {
		c.PolicyLayers = v.GetIntSlice("policy_layers")
	}
	if set("critic_layers") {
		c.CriticLayers = v.GetIntSlice("critic_layers")
	}
	return c, c.Validate()
}

// decodeSNRConfig decodes either a typed agent config, which must be
// of type SNR, or the fields of an SNR config applied over c
func decodeSNRConfig(data []byte, c snr.Config) (snr.Config, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return snr.Config{}, err
	}
	if _, typed := fields["Type"]; !typed {
		err := json.Unmarshal(data, &c)
		return c, err
	}

	var typed agent.TypedConfig
	if err := json.Unmarshal(data, &typed); err != nil {
		return snr.Config{}, err
	}
	decoded, ok := typed.Config.(snr.Config)
	if !ok {
		return snr.Config{}, fmt.Errorf("agent type %v is not %v",
			typed.Type, agent.SNR)
	}
	return decoded, nil
}

// newPendulum returns a swing up Pendulum starting uniformly at random
// with a small speed
func newPendulum(episodeSteps int, seed uint64) (*pendulum.Continuous,
	error) {
	bounds := []r1.Interval{
		{Min: -math.Pi, Max: math.Pi},
		{Min: -1, Max: 1},
	}
	starter := environment.NewUniformStarter(bounds, seed)
	e, _, err := pendulum.NewContinuous(pendulum.NewSwingUp(starter,
		episodeSteps), 0.99)
	return e, err
}

func runSNR(cmd *cobra.Command, _ []string) error {
	v, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := snrConfig(v, cmd)
	if err != nil {
		logger.Error("invalid agent configuration", zap.Error(err))
		return err
	}
	seed := v.GetUint64("seed")

	path := v.GetString("demonstrations")
	if path == "" {
		return fmt.Errorf("snr: no demonstrations given")
	}
	demos, err := demonstrations.Load(path)
	if err != nil {
		return err
	}
	logger.Info("loaded demonstrations", zap.String("path", path),
		zap.Int("transitions", len(demos)))

	e, err := newPendulum(v.GetInt("episode_steps"), seed)
	if err != nil {
		return err
	}

	builder, err := snr.NewBuilder(c,
		demonstrations.FromTransitions(demos, c.BatchSize, seed),
		snr.WithActionBounds(e.ActionSpec().Bounds()...))
	if err != nil {
		return err
	}
	spec := agent.EnvironmentSpec{
		ObservationDims: pendulum.ObservationDims,
		ActionDims:      pendulum.ActionDims,
	}
	networks, err := snr.MakeNetworks(spec, c, seed)
	if err != nil {
		return err
	}

	counter := counting.NewCounter(nil, "")
	learner, err := builder.MakeLearner(seed, networks,
		logging.NewZapWriter("learner", logger),
		counting.NewCounter(counter, "learner"))
	if err != nil {
		return err
	}
	actor, err := builder.MakeActor(seed, networks.Policy, learner)
	if err != nil {
		return err
	}

	var opts []experiment.Option
	if dir := v.GetString("logdir"); dir != "" {
		w, err := summary.NewWriter(dir, "snr")
		if err != nil {
			return err
		}
		defer w.Close()
		opts = append(opts, experiment.WithSummary(w),
			experiment.WithTrackers(
				trackers.NewReturn(filepath.Join(dir, "returns.bin")),
				trackers.NewEpisodeLength(filepath.Join(dir, "lengths.bin")),
			))
	}
	ctx := cmd.Context()
	if addr := v.GetString("metrics_addr"); addr != "" {
		collector := metrics.NewCollector("snr")
		stop := serveMetrics(addr, collector, logger)
		defer stop()
		opts = append(opts, experiment.WithMetrics(collector))
	}

	exp, err := experiment.NewOffline(experiment.Config{
		Steps:        v.GetInt("steps"),
		EvalInterval: v.GetInt("eval_interval"),
		EvalEpisodes: v.GetInt("eval_episodes"),
	}, learner, actor, e, logger, opts...)
	if err != nil {
		return err
	}

	if err := exp.Run(ctx); err != nil {
		logger.Error("experiment failed", zap.Error(err))
		return err
	}
	return exp.Save()
}
