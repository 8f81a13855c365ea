package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midilan/rtpmidi/pkg/rtpmidi"
)

func main() {
	var (
		mode          = flag.String("mode", "listener", "Mode: initiator, listener")
		listenControl = flag.String("listen-control", "127.0.0.1:5004", "Local control-channel address")
		listenData    = flag.String("listen-data", "127.0.0.1:5005", "Local data-channel address")
		remoteControl = flag.String("remote-control", "", "Remote control-channel address (initiator only)")
		remoteData    = flag.String("remote-data", "", "Remote data-channel address (initiator only)")
		sessionName   = flag.String("name", "rtpmidi-endpoint", "Session name advertised in IN/OK/NO")
		debug         = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := rtpmidi.DefaultEndpointConfig()
	cfg.SessionName = *sessionName
	cfg.Logger = logger
	cfg.Metrics = rtpmidi.NewMetrics(rtpmidi.DefaultMetricsConfig())

	endpoint := rtpmidi.NewEndpoint(cfg)
	endpoint.SetCallback(logMIDI(logger), nil)

	switch *mode {
	case "initiator":
		if *remoteControl == "" || *remoteData == "" {
			fmt.Fprintln(os.Stderr, "initiator mode requires -remote-control and -remote-data")
			os.Exit(1)
		}
		if err := endpoint.Initiate(*listenControl, *listenData, *remoteControl, *remoteData); err != nil {
			logger.Fatalf("initiate: %v", err)
		}
	case "listener":
		if err := endpoint.Listen(*listenControl, *listenData); err != nil {
			logger.Fatalf("listen: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want initiator or listener\n", *mode)
		os.Exit(1)
	}

	logger.Infof("rtpmidi endpoint running: control=%s data=%s mode=%s", *listenControl, *listenData, *mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	ctx := context.Background()
	lastState := endpoint.Status()
	for {
		select {
		case <-sig:
			logger.Infof("shutting down")
			endpoint.Close()
			return
		case <-ticker.C:
			endpoint.Tick(ctx)
			if s := endpoint.Status(); s != lastState {
				logger.Infof("state: %s -> %s", lastState, s)
				lastState = s
			}
			if endpoint.ConnectionLost() {
				logger.Warnf("connection lost")
			}
			if endpoint.PeerClosed() {
				logger.Infof("peer closed the session")
			}
			if endpoint.PeerRefused() {
				logger.Warnf("peer refused the invitation")
			}
		}
	}
}

func logMIDI(logger *logrus.Logger) rtpmidi.MIDIHandler {
	return func(_ any, length int, bytes []byte, timestamp uint32) {
		logger.WithFields(logrus.Fields{
			"length":    length,
			"timestamp": timestamp,
		}).Infof("midi: % x", bytes)
	}
}
