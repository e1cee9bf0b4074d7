package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hanumantb/octopus/metrics"
	"github.com/hanumantb/octopus/server"
)

// options is the CLI flag struct. Defaults mirror the source's tunables:
// a 66ms tick, 6829 as the datagram port convention, and a 2*1500-100 byte
// maximum update size.
type options struct {
	ListenAddr  string `long:"listen" env:"OCTOPUS_LISTEN" description:"TCP address to accept RFB connections on" default:":5900"`
	MetricsAddr string `long:"metrics-listen" env:"OCTOPUS_METRICS_LISTEN" description:"HTTP address to serve /metrics on" default:":9109"`

	DatagramPort  int `long:"datagram-port" env:"OCTOPUS_DATAGRAM_PORT" description:"UDP port used for push-mode updates" default:"6829"`
	MaxUpdateSize int `long:"max-update-size" env:"OCTOPUS_MAX_UPDATE_SIZE" description:"Maximum bytes per FramebufferUpdate datagram" default:"2900"`

	Width  uint16 `long:"width" env:"OCTOPUS_WIDTH" description:"Framebuffer width" default:"1280"`
	Height uint16 `long:"height" env:"OCTOPUS_HEIGHT" description:"Framebuffer height" default:"800"`

	Desktop string `long:"desktop" env:"OCTOPUS_DESKTOP" description:"Desktop name advertised in ServerInit" default:"octopus"`
	Host    string `long:"host" env:"OCTOPUS_HOST" description:"Host name advertised in ServerInit" default:"localhost"`
	Display int    `long:"display" env:"OCTOPUS_DISPLAY" description:"X display number advertised in ServerInit" default:"0"`

	PullPushThreshold int           `long:"pull-push-threshold" env:"OCTOPUS_PULL_PUSH_THRESHOLD" description:"Pull-mode requests before a primary client enters push mode" default:"10"`
	TickInterval      time.Duration `long:"tick-interval" env:"OCTOPUS_TICK_INTERVAL" description:"Push Scheduler tick period" default:"66ms"`

	AlwaysShared   bool `long:"always-shared" env:"OCTOPUS_ALWAYS_SHARED" description:"Force every session to be shared, ignoring the client's flag"`
	NeverShared    bool `long:"never-shared" env:"OCTOPUS_NEVER_SHARED" description:"Force every session to be non-shared, ignoring the client's flag"`
	DontDisconnect bool `long:"dont-disconnect" env:"OCTOPUS_DONT_DISCONNECT" description:"Refuse new non-shared clients instead of disconnecting the existing session"`
	ViewOnly       bool `long:"view-only" env:"OCTOPUS_VIEW_ONLY" description:"Drop all keyboard/pointer/clipboard input from clients"`

	LogLevel string `long:"log-level" env:"OCTOPUS_LOG_LEVEL" description:"logrus level: debug, info, warn, error" default:"info"`
}

func main() {
	var opts options
	var parser = flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	var log = logrus.New()
	if lvl, err := logrus.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.WithError(err).Warn("unrecognized log level, defaulting to info")
	}
	var entry = logrus.NewEntry(log)

	var collector = metrics.NewSessionCollector("octopus", prometheus.Labels{})
	prometheus.MustRegister(collector)

	var fb = server.NewSyntheticFramebuffer(int(opts.Width), int(opts.Height))
	var cfg = server.Config{
		ListenAddr:        opts.ListenAddr,
		DatagramPort:      opts.DatagramPort,
		Width:             opts.Width,
		Height:            opts.Height,
		Desktop:           opts.Desktop,
		Host:              opts.Host,
		Display:           opts.Display,
		PullPushThreshold: opts.PullPushThreshold,
		TickInterval:      opts.TickInterval,
		MaxUpdateSize:     opts.MaxUpdateSize,
		AlwaysShared:      opts.AlwaysShared,
		NeverShared:       opts.NeverShared,
		DontDisconnect:    opts.DontDisconnect,
		ViewOnly:          opts.ViewOnly,
	}
	var srv = server.New(cfg, fb, collector, entry)

	var ln, err = net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		entry.WithError(err).Fatal("listen")
	}

	var ctx, cancel = context.WithCancel(context.Background())
	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		entry.Info("shutting down")
		cancel()
	}()

	go serveMetrics(entry, opts.MetricsAddr)

	entry.WithFields(logrus.Fields{
		"listen":   opts.ListenAddr,
		"datagram": opts.DatagramPort,
		"width":    opts.Width,
		"height":   opts.Height,
	}).Info("octopus vnc server starting")

	if err := srv.Serve(ctx, ln); err != nil {
		entry.WithError(err).Fatal("serve")
	}
}

func serveMetrics(log *logrus.Entry, addr string) {
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server exited")
	}
}
