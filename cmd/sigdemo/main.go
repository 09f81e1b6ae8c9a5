// Command sigdemo wires a Receiver and an OutgoingMessage engine against
// stub external collaborators for manual smoke-testing. It is not part of
// the engine itself.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/relaywire/sigtransport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := "info"
	if *debug {
		logLevel = "debug"
	}
	log := sigtransport.NewLogger(sigtransport.LoggerConfig{Level: logLevel, Format: "console"})
	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting sigdemo")

	cfg, err := sigtransport.LoadConfig(&log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.LogConfig(log)

	metrics := sigtransport.NewMetrics(nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	store := sigtransport.NewMemoryStore(cfg.LocalNumber, cfg.LocalDeviceID)
	server := newStubServer(cfg.PushURL)
	cipherFactory := func(addr sigtransport.SessionAddress, unlimited bool) sigtransport.SessionCipher {
		return newStubCipher(addr)
	}
	builderFactory := func(addr sigtransport.SessionAddress) sigtransport.SessionBuilder {
		return newStubBuilder()
	}

	events := &sigtransport.Events{
		OnMessage: func(ev sigtransport.MessageEvent) {
			log.Info().Str("source", ev.Source).Str("body", ev.Message.Body).Msg("message received")
			ev.Confirm()
		},
		OnError: func(ev sigtransport.ErrorEvent) {
			log.Warn().Err(ev.Err).Msg("receiver error")
		},
		OnEmpty: func(sigtransport.EmptyEvent) {
			log.Info().Msg("queue drained")
		},
	}

	signalingKey, err := sigtransport.NewSignalingKey(make([]byte, 52))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build signaling key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := sigtransport.NewReceiver(sigtransport.ReceiverConfig{
		Store:         store,
		Server:        server,
		SignalingKey:  signalingKey,
		CipherFactory: cipherFactory,
		Events:        events,
		LocalNumber:   cfg.LocalNumber,
		LocalDeviceID: cfg.LocalDeviceID,
		Dial: func(ctx context.Context) (sigtransport.MessageSocket, error) {
			return server.GetMessageSocket(ctx)
		},
		TaskTimeout: cfg.TaskTimeout,
		Metrics:     metrics,
		Log:         log,
	})

	sender := sigtransport.NewOutgoingMessage(sigtransport.SenderConfig{
		Store:          store,
		Server:         server,
		CipherFactory:  cipherFactory,
		BuilderFactory: builderFactory,
		LocalNumber:    cfg.LocalNumber,
		Metrics:        metrics,
		Log:            log,
	})
	_ = sender

	if err := receiver.Start(ctx, cfg.RetryCached); err != nil {
		log.Fatal().Err(err).Msg("failed to start receiver")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	if err := receiver.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
