package main

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/pipeline"
	"github.com/skywalker-88/stormline/internal/simhost"
	"github.com/skywalker-88/stormline/internal/transport"
	"github.com/skywalker-88/stormline/pkg/config"
)

var (
	epPing   = channel.Endpoint{ServiceName: "demo", EndpointName: "ping", HTTPMethod: http.MethodGet, PathTemplate: "/ping"}
	epGet    = channel.Endpoint{ServiceName: "demo", EndpointName: "getItem", HTTPMethod: http.MethodGet, PathTemplate: "/items/{id}"}
	epCreate = channel.Endpoint{ServiceName: "demo", EndpointName: "createItem", HTTPMethod: http.MethodPost, PathTemplate: "/items"}
)

func main() {
	// ------- Logging setup -------
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(config.MustEnv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// ---- Load config (falls back to defaults when no file is present) ----
	cfgPath := os.Getenv("STORMLINE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn().Err(err).Msg("no config file; using defaults")
		cfg = config.Default()
	}

	// ---- Simulated upstream hosts ----
	var hosts []*simhost.Host
	var pipeHosts []pipeline.Host
	httpClient := &http.Client{Timeout: 10 * time.Second}
	for i := 0; i < cfg.Sim.Hosts; i++ {
		h, err := simhost.Start(simhost.Options{
			Index:       i,
			QoSPercent:  cfg.Sim.QoSPercent,
			ErrPercent:  cfg.Sim.ErrPercent,
			SlowPercent: cfg.Sim.SlowPercent,
		})
		if err != nil {
			log.Fatal().Err(err).Int("host", i).Msg("start sim host")
		}
		hosts = append(hosts, h)
		pipeHosts = append(pipeHosts, pipeline.Host{
			URI:       h.URL,
			Transport: transport.NewHTTP(httpClient, h.URL, cfg.Client.ChannelName),
		})
	}

	p, err := pipeline.New(cfg.Client, pipeHosts)
	if err != nil {
		log.Fatal().Err(err).Msg("build client pipeline")
	}

	// ---- Observability endpoint ----
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"stormline","status":"ok","hint":"see /health and /metrics"}`))
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Sim.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("observability server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("observability server stopped unexpectedly")
		}
	}()

	// ---- Synthetic traffic ----
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trafficCtx, trafficDone := context.WithCancel(ctx)
	defer trafficDone()

	var issued atomic.Int64
	budget := int64(cfg.Sim.Requests)
	var g errgroup.Group
	for w := 0; w < cfg.Sim.Workers; w++ {
		sticky := w == 0 && len(hosts) > 1
		g.Go(func() error { return drive(trafficCtx, p, sticky, &issued, budget) })
	}

	// Roll one host at a time so node selection and QoS handling have
	// something to route around.
	if len(hosts) > 1 {
		go rollHosts(trafficCtx, hosts)
	}

	log.Info().
		Int("hosts", cfg.Sim.Hosts).
		Int("workers", cfg.Sim.Workers).
		Int("requests", cfg.Sim.Requests).
		Msg("stormline simulator starting")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("traffic driver failed")
	}
	trafficDone()
	stop()

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("observability server shutdown did not complete; forcing close")
		_ = srv.Close()
	}
	for _, h := range hosts {
		_ = h.Close()
	}
	log.Info().Int64("requests_issued", issued.Load()).Msg("stormline exited")
}

// drive issues requests through the pipeline until the budget is spent or
// ctx ends. A sticky worker sends its whole stream through one session.
func drive(ctx context.Context, p *pipeline.Pipeline, sticky bool, issued *atomic.Int64, budget int64) error {
	var ch channel.Channel = p
	if sticky {
		ch = p.StickySession()
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if budget > 0 && issued.Add(1) > budget {
			issued.Add(-1)
			return nil
		}

		ep, req := nextCall()
		resp, err := ch.Execute(ctx, ep, req).Await(ctx)
		if err != nil {
			log.Debug().Err(err).Str("endpoint", ep.EndpointName).Msg("request failed")
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body())
		_ = resp.Close()
	}
}

func nextCall() (channel.Endpoint, *channel.Request) {
	switch rand.N(3) {
	case 0:
		return epPing, &channel.Request{}
	case 1:
		return epGet, &channel.Request{
			PathParams: map[string]string{"id": strconv.Itoa(rand.N(1000))},
			Query:      url.Values{"verbose": []string{"1"}},
		}
	default:
		return epCreate, &channel.Request{
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   strings.NewReader(`{"name":"item"}`),
		}
	}
}

// rollHosts drains each host in turn for a short window.
func rollHosts(ctx context.Context, hosts []*simhost.Host) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h := hosts[next%len(hosts)]
		next++
		h.SetDraining(true)
		log.Info().Str("url", h.URL).Msg("draining sim host")
		select {
		case <-ctx.Done():
			h.SetDraining(false)
			return
		case <-time.After(5 * time.Second):
			h.SetDraining(false)
		}
	}
}
