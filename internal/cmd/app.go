package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/htbdesk/htb/internal/api"
	"github.com/htbdesk/htb/internal/config"
	"github.com/htbdesk/htb/internal/credentials"
	"github.com/htbdesk/htb/internal/debuglog"
	"github.com/htbdesk/htb/internal/htb"
	"github.com/htbdesk/htb/internal/task"
)

// app is the per-invocation object graph. The goroutine running the command
// drains loop and acts as the UI thread for task callbacks.
type app struct {
	cfg   *config.Config
	creds *credentials.Store
	svc   *htb.Service
	loop  *task.Loop
	group *task.Group
	log   *slog.Logger
}

// debugOutput receives diagnostic records when debug is on.
var debugOutput io.Writer = os.Stderr

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Debug {
		debug = true
	}

	logger := slog.New(slog.DiscardHandler)
	sink := debuglog.Nop()
	if debug {
		logger = slog.New(slog.NewTextHandler(debugOutput, &slog.HandlerOptions{Level: slog.LevelDebug}))
		sink = debuglog.NewText(debugOutput)
	}
	Debug("config file: %s (token source: %q)", cfg.File, cfg.TokenSource)

	creds := credentials.NewStore(cfg.File, cfg.APIToken, cfg.Debug)
	client := api.New(api.Options{
		V4Base:             cfg.APIV4(),
		V5Base:             cfg.APIV5(),
		Timeout:            cfg.Timeout,
		Tokens:             creds,
		Sink:               sink,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	loop := task.NewLoop()
	return &app{
		cfg:   cfg,
		creds: creds,
		svc:   htb.NewService(client, cfg.BaseURL),
		loop:  loop,
		group: task.NewGroup(loop, task.WithLogger(logger)),
		log:   logger,
	}, nil
}

// warnNoToken tells the user why calls are about to fail.
func (a *app) warnNoToken(w io.Writer) {
	if !a.creds.HasToken() {
		fmt.Fprintf(w, "Warning: no API token configured. Run 'htb token set' or set %s.\n", config.TokenEnv)
	}
}

// serve runs body and drains the loop until body's stop function is called
// or ctx ends. When ctx ends first, background tasks are stopped and ctx's
// error is returned; Execute reports an interruption without an error
// message.
func (a *app) serve(ctx context.Context, body func(stop func())) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	body(stop)
	err := a.loop.Run(runCtx)
	if ctx.Err() != nil {
		a.group.StopAll()
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// await runs w in slot and blocks until its result is delivered.
func await[T any](ctx context.Context, a *app, slot string, w func(context.Context) (T, error)) (T, error) {
	var (
		result T
		failed error
	)
	err := a.serve(ctx, func(stop func()) {
		task.Start[T](a.group, slot, w, task.Callbacks[T]{
			OnSuccess: func(v T) {
				result = v
				stop()
			},
			OnFailure: func(err error) {
				failed = err
				stop()
			},
		})
	})
	if err != nil {
		return result, err
	}
	return result, failed
}
