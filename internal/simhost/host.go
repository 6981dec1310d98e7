// Package simhost runs simulated upstream hosts for the load simulator:
// small chi servers whose failure behavior is dialed in per host, so the
// admission pipeline has something realistic to push against.
package simhost

import (
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Served counts upstream responses per simulated host and status code.
var Served = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "stormline", Name: "sim_upstream_responses_total"},
	[]string{"host", "code"},
)

func init() {
	prometheus.MustRegister(Served)
}

// Options dials in one host's behavior, in percent of requests.
type Options struct {
	Index       int
	QoSPercent  int // answered 429 with Retry-After
	ErrPercent  int // answered 500
	SlowPercent int // delayed before answering 200
}

// Host is one simulated upstream server.
type Host struct {
	URL string

	index string
	srv   *http.Server
	ln    net.Listener
	drain drainFlag
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// Start brings up a host on a loopback port.
func Start(opts Options) (*Host, error) {
	h := &Host{index: strconv.Itoa(opts.Index)}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, code: 200}
			next.ServeHTTP(sr, req)
			Served.WithLabelValues(h.index, strconv.Itoa(sr.code)).Inc()
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if h.drain.IsDraining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"draining"}` + "\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	r.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case h.drain.IsDraining():
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"draining"}`))
		case roll(opts.QoSPercent):
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"throttled"}`))
		case roll(opts.ErrPercent):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal"}`))
		default:
			if roll(opts.SlowPercent) {
				time.Sleep(150 * time.Millisecond)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"host":` + h.index + `,"msg":"ok"}`))
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	h.ln = ln
	h.URL = "http://" + ln.Addr().String()
	h.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("host", h.index).Msg("sim host stopped unexpectedly")
		}
	}()

	log.Info().Str("host", h.index).Str("url", h.URL).Msg("sim host listening")
	return h, nil
}

// SetDraining flips the host into rolling-restart mode: everything answers
// 503 until cleared.
func (h *Host) SetDraining(on bool) { h.drain.Set(on) }

func (h *Host) Close() error { return h.srv.Close() }

func roll(percent int) bool {
	return percent > 0 && rand.N(100) < percent
}
