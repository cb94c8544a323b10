package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// listens for interrupts
type signalListener struct {
	sigChannel  chan os.Signal
	cancel      context.CancelFunc
	logger      log.Logger
	interrupted atomic.Bool
}

// newSignalListener registers sigChannel for SIGINT and SIGTERM right
// away, so Interrupt can stop and close it whether or not Execute ran.
func newSignalListener(sigChannel chan os.Signal, cancel context.CancelFunc, logger log.Logger) *signalListener {
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	return &signalListener{
		sigChannel: sigChannel,
		cancel:     cancel,
		logger:     log.With(logger, "component", "signal_listener"),
	}
}

// Execute waits for SIGINT or SIGTERM. A signal is reported as an error so
// an interrupted build exits non-zero.
func (s *signalListener) Execute() error {
	sig, ok := <-s.sigChannel
	if !ok {
		return nil
	}
	level.Info(s.logger).Log(
		"msg", "beginning shutdown via signal",
		"signal_received", sig,
	)
	return errors.Errorf("interrupted by %s", sig)
}

func (s *signalListener) Interrupt(_ error) {
	// Only perform shutdown tasks on first call to interrupt
	if s.interrupted.Swap(true) {
		return
	}

	signal.Stop(s.sigChannel)
	s.cancel()
	close(s.sigChannel)
}
