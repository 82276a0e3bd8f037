package client

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/danmuck/twinctl/internal/host/memory"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/testutil/testlog"
	"github.com/danmuck/twinctl/internal/twin"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startServer(t *testing.T) string {
	t.Helper()
	registry, err := message.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host := memory.New(memory.DefaultManifest())
	dispatcher := twin.NewDispatcher("twin.client-test", host, registry, time.Second)
	srv := twin.NewServer(twin.DefaultServerConfig(), dispatcher)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Address = addr
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientDrivesFullLifecycle(t *testing.T) {
	testlog.Start(t)
	c := dialClient(t, startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.ModelInfo(ctx)
	if err != nil {
		t.Fatalf("model info: %v", err)
	}
	if info.Name != "accumulator" || info.Phase != "uninitialized" {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := c.Initialize(ctx, "accumulator"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := c.SetInputs(ctx, []string{"inflow"}, []any{message.Float64(4)}); err != nil {
		t.Fatalf("set inputs: %v", err)
	}
	if err := c.SetParameter(ctx, "gain", wrapperspb.Double(0.5)); err != nil {
		t.Fatalf("set parameter: %v", err)
	}
	start := message.Start{StartTime: message.Float32(0), StepSize: message.Float32(0.5), RunMode: message.RunModeStepped}
	if err := c.Start(ctx, start); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.Advance(ctx, message.Step32(message.Float32(0.5))); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	values, err := c.GetOutputs(ctx, "level", "clock")
	if err != nil {
		t.Fatalf("get outputs: %v", err)
	}
	level, _ := message.ToFloat64(values[0])
	clock, _ := message.ToFloat64(values[1])
	if math.Abs(level-2) > 1e-9 || math.Abs(clock-1) > 1e-9 {
		t.Fatalf("level=%v clock=%v", level, clock)
	}

	params, err := c.GetParameters(ctx, "gain")
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if params[0].(*wrapperspb.DoubleValue).GetValue() != 0.5 {
		t.Fatalf("unexpected gain %v", params[0])
	}

	if err := c.Stop(ctx, message.StopModeClean); err != nil {
		t.Fatalf("stop: %v", err)
	}
	info, err = c.ModelInfo(ctx)
	if err != nil || info.Phase != "stopped" {
		t.Fatalf("expected stopped phase, got %+v err %v", info, err)
	}
}

func TestClientSurfacesResponseCodes(t *testing.T) {
	testlog.Start(t)
	c := dialClient(t, startServer(t))
	ctx := context.Background()

	err := c.Advance(ctx, message.Step32(message.Float32(1)))
	var re *ResponseError
	if !errors.As(err, &re) || re.Code != message.CodeInvalidState {
		t.Fatalf("expected invalid state response error, got %v", err)
	}

	if err := c.Initialize(ctx, "other-model"); !errors.As(err, &re) || re.Code != message.CodeInvalidOption {
		t.Fatalf("expected invalid option, got %v", err)
	}
	if err := c.Initialize(ctx, ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := c.GetOutputs(ctx, "nope"); !errors.As(err, &re) || re.Code != message.CodeUnknownOption {
		t.Fatalf("expected unknown option, got %v", err)
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Session.Backoff.InitialDelay = time.Millisecond
	cfg.Session.Backoff.MaxAttempts = 2
	if _, err := Dial(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected dial failure")
	}
	if _, err := Dial(context.Background(), Config{}, nil); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestDoAfterClose(t *testing.T) {
	testlog.Start(t)
	c := dialClient(t, startServer(t))
	_ = c.Close()
	if _, err := c.Do(context.Background(), message.Request{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClientStartWithoutRunMode(t *testing.T) {
	testlog.Start(t)
	c := dialClient(t, startServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Initialize(ctx, ""); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := c.Start(ctx, message.Start{StartTime: message.Float32(0), StepSize: message.Float32(0.1)}); err != nil {
		t.Fatalf("start with only start time and step size: %v", err)
	}
	if err := c.Advance(ctx, message.Step32(message.Float32(0.1))); err != nil {
		t.Fatalf("advance: %v", err)
	}
	info, err := c.ModelInfo(ctx)
	if err != nil || info.Phase != "stepping" {
		t.Fatalf("expected stepping phase, got %+v err %v", info, err)
	}
}
