package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/events"
	"github.com/loadline/negotiator/internal/llm"
	"github.com/loadline/negotiator/internal/mail/gmail"
	"github.com/loadline/negotiator/internal/policy"
	"github.com/loadline/negotiator/internal/repository"
)

// runtime holds the services shared by the serve and worker commands.
type runtime struct {
	pol       *policy.Policy
	logger    *log.Logger
	backends  *repository.Backends
	emitter   *events.Emitter
	svc       *app.NegotiationService
	scheduler *app.Scheduler

	closeLog func()
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	pol := policy.New(cfg)
	logger, closeLog := setupLogger(pol.LogFile())

	backends, err := repository.Open(ctx, pol)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Printf("Storage: %s (queue backend %s)", pol.DatabaseDriver(), pol.Queue().Backend)

	emitter := events.NewEmitter(logger)
	svc := app.NewNegotiationService(backends.Store, backends.Store, backends.Store, pol, logger,
		app.WithEventSink(events.NewSink(emitter)))
	scheduler := app.NewScheduler(backends.Queue, pol.SignalFilePath(), logger)
	svc.SetScheduler(scheduler)

	return &runtime{
		pol:       pol,
		logger:    logger,
		backends:  backends,
		emitter:   emitter,
		svc:       svc,
		scheduler: scheduler,
		closeLog:  closeLog,
	}, nil
}

// startBackground starts the dispatcher with its agent and email handlers, the
// signal-file notifier and the lease sweeper. The returned func stops them.
func (r *runtime) startBackground(ctx context.Context) (func(), error) {
	completion, err := llm.New(ctx, r.pol.LLM())
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	mc := r.pol.Mail()
	tokens, err := gmail.NewTokenSource(mc.AccessToken, gmail.OAuthConfig{
		ClientID:     mc.ClientID,
		ClientSecret: mc.ClientSecret,
		RefreshToken: mc.RefreshToken,
		TokenURL:     mc.TokenURL,
	})
	if err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}
	mailer := gmail.New(tokens, gmail.WithBaseURL(mc.APIBase))

	qc := r.pol.Queue()
	dispatcher := app.NewDispatcher(r.backends.Queue, r.logger,
		app.WithWorkers(qc.Workers),
		app.WithDispatchPollInterval(time.Duration(qc.PollIntervalSeconds)*time.Second),
		app.WithLease(time.Duration(qc.LeaseSeconds)*time.Second),
		app.WithMaxAttempts(qc.MaxAttempts),
	)
	orchestrator := app.NewOrchestrator(r.svc, completion, r.scheduler, r.logger)
	outbound := app.NewOutboundSender(r.svc, mailer, r.pol, r.logger)
	dispatcher.Handle(domain.TaskRunAgent, orchestrator.HandleTask)
	dispatcher.Handle(domain.TaskSendEmail, outbound.HandleTask)
	r.scheduler.SetNotifier(dispatcher)

	notifier := app.NewNotifier(r.pol.SignalFilePath(), dispatcher, r.logger)
	sweeper := app.NewSweeper(r.backends.Queue, r.logger, app.WithSweeperNotifier(dispatcher))

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){dispatcher.Start, notifier.Start, sweeper.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}
	// Pick up tasks left by a previous run.
	dispatcher.Trigger()

	return func() {
		sweeper.Stop()
		notifier.Stop()
		dispatcher.Stop()
		wg.Wait()
	}, nil
}

func (r *runtime) Close() {
	if err := r.backends.Close(); err != nil {
		r.logger.Printf("Close storage: %v", err)
	}
	r.closeLog()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. SIGHUP is
// ignored so the process survives a closed terminal.
func signalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
