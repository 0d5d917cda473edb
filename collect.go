package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/distillrl/demonstrations"
	"github.com/samuelfneumann/distillrl/timestep"
	"github.com/samuelfneumann/distillrl/utils/floatutils"
)

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect Pendulum demonstrations with a uniform random policy",
		RunE:  runCollect,
	}
	f := cmd.Flags()
	f.String("output", "demonstrations.gob", "File to write.")
	f.Int("episodes", 10, "Number of episodes to collect.")
	f.Int("episode_steps", 200, "Maximum steps of an episode.")
	f.Uint64("seed", 0, "Seed of the policy and environment.")
	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	v, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	seed := v.GetUint64("seed")
	episodes := v.GetInt("episodes")
	if episodes < 1 {
		return fmt.Errorf("collect: episodes must be positive")
	}

	e, err := newPendulum(v.GetInt("episode_steps"), seed)
	if err != nil {
		return err
	}
	bounds := e.ActionSpec().Bounds()
	unit := r1.Interval{Min: -1, Max: 1}

	src := rand.NewSource(seed)
	dists := make([]distuv.Uniform, len(bounds))
	for i, b := range bounds {
		dists[i] = distuv.Uniform{Min: b.Min, Max: b.Max, Src: src}
	}

	ctx := cmd.Context()
	var transitions []timestep.Transition
	for ep := 0; ep < episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := e.Reset()
		for !step.Last() {
			action := mat.NewVecDense(len(dists), nil)
			stored := mat.NewVecDense(len(dists), nil)
			for i := range dists {
				a := dists[i].Rand()
				action.SetVec(i, a)
				stored.SetVec(i, floatutils.Rescale(a, bounds[i], unit))
			}

			next, _ := e.Step(action)
			transitions = append(transitions,
				timestep.NewTransition(step, stored, next, nil))
			step = next
		}
	}

	path := v.GetString("output")
	if err := demonstrations.Save(path, transitions); err != nil {
		return err
	}
	logger.Info("saved demonstrations", zap.String("path", path),
		zap.Int("episodes", episodes),
		zap.Int("transitions", len(transitions)))
	return nil
}
