// Package server runs the process's long-lived services: ordered startup,
// signal handling, and reverse-order shutdown.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is one long-running component. Start blocks for the service's
// lifetime; Stop asks it to wind down.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Lifecycle starts registered services in order and stops them in reverse
// when the process is signalled, the context is cancelled, or a service
// fails.
type Lifecycle struct {
	logger *zap.Logger

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name string
	svc  Service
}

// NewLifecycle creates an empty lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service. Startup order follows registration order.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT or SIGTERM
// arrives, ctx is cancelled, or a service start fails. Services are then
// stopped in reverse registration order.
//
// Postcondition: every service's Stop has returned when Run returns. The
// return value is the first start failure, or nil on a clean shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	began := time.Now()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	failed := make(chan error, len(services))
	for _, ns := range services {
		go func(ns namedService) {
			l.logger.Info("service starting", zap.String("service", ns.name))
			if err := ns.svc.Start(); err != nil {
				failed <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}(ns)
	}
	l.logger.Info("services running", zap.Int("count", len(services)))

	var runErr error
	select {
	case <-ctx.Done():
		l.logger.Info("shutdown requested")
	case runErr = <-failed:
		l.logger.Error("service failed, shutting down", zap.Error(runErr))
	}

	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		stopped := time.Now()
		ns.svc.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(stopped)),
		)
	}
	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(began)))
	return runErr
}
