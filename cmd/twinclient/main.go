package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/twinctl/internal/client"
	"github.com/danmuck/twinctl/internal/logging"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type options struct {
	addr   string
	model  string
	input  string
	value  float64
	output string
	step   float64
	steps  int
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:9100", "twinctl listen address")
	flag.StringVar(&opts.model, "model", "", "model name to initialize (empty selects the loaded model)")
	flag.StringVar(&opts.input, "input", "inflow", "input variable to drive")
	flag.Float64Var(&opts.value, "value", 1, "value written to -input before starting")
	flag.StringVar(&opts.output, "outputs", "level,clock", "comma separated outputs to read after each step")
	flag.Float64Var(&opts.step, "step", 0.1, "step size in seconds")
	flag.IntVar(&opts.steps, "steps", 10, "number of steps to advance")
	flag.Parse()

	logging.ConfigureRuntime("twinclient")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "twinclient: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg := client.DefaultConfig()
	cfg.Address = opts.addr
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, cfg, nil)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.ModelInfo(ctx)
	if err != nil {
		return fmt.Errorf("model info: %w", err)
	}
	log.Info().Str("model", info.Name).Str("phase", info.Phase).Int("outputs", len(info.Outputs)).Msg("connected")

	if err := c.Initialize(ctx, opts.model); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if opts.input != "" {
		if err := c.SetInputs(ctx, []string{opts.input}, []any{wrapperspb.Double(opts.value)}); err != nil {
			return fmt.Errorf("set input: %w", err)
		}
	}
	start := message.Start{
		StartTime: message.Float32(0),
		StepSize:  message.Float32(float32(opts.step)),
		RunMode:   message.RunModeStepped,
	}
	if err := c.Start(ctx, start); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	outputs := splitNames(opts.output)
	for i := 0; i < opts.steps; i++ {
		if err := c.Advance(ctx, message.Step64(message.Float64(opts.step))); err != nil {
			return fmt.Errorf("advance %d: %w", i, err)
		}
		if len(outputs) == 0 {
			continue
		}
		values, err := c.GetOutputs(ctx, outputs...)
		if err != nil {
			return fmt.Errorf("get outputs: %w", err)
		}
		ev := log.Info().Int("step", i+1)
		for j, name := range outputs {
			if f, err := message.ToFloat64(values[j]); err == nil {
				ev = ev.Float64(name, f)
			} else {
				ev = ev.Str(name, fmt.Sprintf("%v", values[j]))
			}
		}
		ev.Msg("advanced")
	}
	if err := c.Stop(ctx, message.StopModeClean); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}

func splitNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
