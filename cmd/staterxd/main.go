// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statefetch/reader/codecs/avro"
	"github.com/statefetch/reader/codecs/varint"
	"github.com/statefetch/reader/internal/config"
	"github.com/statefetch/reader/pkg/log"
	"github.com/statefetch/reader/statereader"
	"github.com/statefetch/reader/transport"
)

func main() {
	var flagConfigFile string
	var flagLogLevel string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default worker config with `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "", "Set the log level (debug, info, notice, warn, err, crit); overrides the config file")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	config.Init(flagConfigFile)

	if flagLogLevel != "" {
		config.Keys.LogLevel = flagLogLevel
	}
	log.SetLogLevel(config.Keys.LogLevel)

	key, err := hex.DecodeString(config.Keys.KeyHex)
	if err != nil {
		log.Fatalf("staterxd: decoding keyHex: %s", err.Error())
	}

	reg := prometheus.NewRegistry()
	metrics := statereader.NewMetrics(reg)

	binding := statereader.Binding{
		Computation: config.Keys.Computation,
		Key:         key,
		WorkToken:   config.Keys.WorkToken,
	}
	fetcher := transport.NewHTTPFetcher(config.Keys.BackingStoreURL, config.Keys.BackingStoreJWT)
	reader := statereader.New(binding, fetcher, statereader.WithMetrics(metrics))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: config.Keys.MetricsListen, Handler: mux}

	go func() {
		log.Infof("staterxd: metrics listening on %s", config.Keys.MetricsListen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("staterxd: metrics server: %s", err.Error())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := demo(ctx, reader); err != nil {
		log.Errorf("staterxd: demo fetch failed: %s", err.Error())
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// demo exercises the reader against the configured binding the way a real
// worker would: register a handful of handles up front, then await them,
// triggering exactly one flush.
func demo(ctx context.Context, r *statereader.Reader) error {
	counter := statereader.ValueHandle(r, []byte("request-count"), varint.Int64)
	samples := statereader.ListHandle(r, []byte("latency-samples"), varint.Int64)
	watermark := statereader.WatermarkHandle(r, []byte("input-watermark"))

	recordDecoder, err := avro.NewRecordDecoder(`{"type":"record","name":"Event","fields":[{"name":"kind","type":"string"},{"name":"value","type":"double"}]}`)
	if err != nil {
		return fmt.Errorf("building avro decoder: %w", err)
	}
	events := statereader.ListHandle(r, []byte("events"), recordDecoder.Decode)

	c, err := counter.Await(ctx)
	if err != nil {
		return fmt.Errorf("awaiting request-count: %w", err)
	}
	if c.Present {
		log.Infof("staterxd: request-count = %d", c.Value)
	} else {
		log.Infof("staterxd: request-count is unset")
	}

	s, err := samples.Await(ctx)
	if err != nil {
		return fmt.Errorf("awaiting latency-samples: %w", err)
	}
	log.Infof("staterxd: latency-samples has %d entries", len(s))

	w, err := watermark.Await(ctx)
	if err != nil {
		return fmt.Errorf("awaiting input-watermark: %w", err)
	}
	if w.Present {
		log.Infof("staterxd: input-watermark = %d ms", w.Value)
	} else {
		log.Infof("staterxd: input-watermark is unset")
	}

	ev, err := events.Await(ctx)
	if err != nil {
		return fmt.Errorf("awaiting events: %w", err)
	}
	log.Infof("staterxd: events has %d entries", len(ev))

	return nil
}
