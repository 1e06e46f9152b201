// Command proxy is the real-time audio streaming proxy's process entry
// point: wires configuration, logging, metrics, the dispatch/coordinator
// layer, and the client-facing WebSocket endpoint, then serves until
// signaled to shut down.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vstream/relay/internal/audio"
	"github.com/vstream/relay/internal/codec"
	"github.com/vstream/relay/internal/config"
	"github.com/vstream/relay/internal/coordinator"
	"github.com/vstream/relay/internal/dispatch"
	"github.com/vstream/relay/internal/errs"
	"github.com/vstream/relay/internal/launcher"
	"github.com/vstream/relay/internal/logging"
	"github.com/vstream/relay/internal/metrics"
	"github.com/vstream/relay/internal/multiplexer"
	"github.com/vstream/relay/internal/provider"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "proxy: config error:", err)
		os.Exit(1)
	}

	var log logging.Logger
	if cfg.LogFile != "" {
		log = logging.NewFile(cfg.LogFile, 100, 5, 28)
	} else {
		log = logging.New()
	}

	if err := run(cfg, log); err != nil {
		log.Error("proxy: exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := coordinator.NewSQLiteStore(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	var launch launcher.Launcher = launcher.Noop{}
	if cfg.RoutingMode == config.RoutingAutoscale {
		if dl, err := launcher.NewDockerLauncher(cfg.DockerImage); err == nil {
			launch = dl
		} else {
			log.Warn("docker launcher unavailable, falling back to noop", zap.Error(err))
		}
	}

	coord := coordinator.New(store, launch, log, cfg.MinContainers, cfg.MaxConnectionsPerWorker, cfg.ScaleDownIdleTime)
	if err := coord.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap coordinator: %w", err)
	}

	strategy := dispatch.Strategy(cfg.RoutingMode)
	router := dispatch.New(strategy, cfg.ContainerPoolSize, coord)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		if err := coord.SweepIdle(ctx); err != nil {
			log.Warn("idle sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ws", newWSHandler(cfg, router, coord, log))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("proxy listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newWSHandler(cfg *config.Config, router *dispatch.Router, coord *coordinator.Coordinator, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sessionID := q.Get("sessionId")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		encoding := q.Get("encoding")
		sendBack := q.Get("sendBack") != "false"
		transcribe := q.Get("transcribe") != "false"

		ctx := r.Context()
		workerID, err := router.Assign(ctx, sessionID)
		if err != nil {
			log.Warn("dispatch assign failed", zap.Error(err))
			http.Error(w, "worker unavailable", http.StatusServiceUnavailable)
			return
		}
		if cfg.RoutingMode == config.RoutingAutoscale {
			if err := coord.ConnectionOpened(ctx, sessionID, workerID); err != nil {
				log.Warn("connectionOpened failed", zap.Error(err))
			}
			defer func() {
				if err := coord.ConnectionClosed(context.Background(), sessionID, workerID); err != nil {
					log.Warn("connectionClosed failed", zap.Error(err))
				}
			}()
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		out := &filteringConn{conn: conn, sendBack: sendBack, transcribe: transcribe}
		mux := multiplexer.New(out, sessionFactory(cfg, encoding, log), log.With(zap.String("sessionId", sessionID)))
		defer mux.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mux.HandleMessage(ctx, msg)
		}
	}
}

// filteringConn gates outbound audio/transcript events behind the client's
// sendBack/transcribe URL parameters (spec.md §6's CLI dispatch parameters).
type filteringConn struct {
	conn       *websocket.Conn
	sendBack   bool
	transcribe bool
}

func (f *filteringConn) WriteJSON(v any) error {
	type evt struct {
		Event string `json:"event"`
	}
	if b, err := json.Marshal(v); err == nil {
		var e evt
		if json.Unmarshal(b, &e) == nil {
			if e.Event == "audio" && !f.sendBack {
				return nil
			}
			if e.Event == "transcript" && !f.transcribe {
				return nil
			}
		}
	}
	return f.conn.WriteJSON(v)
}

func sessionFactory(cfg *config.Config, encoding string, log logging.Logger) multiplexer.SessionFactory {
	return func(ctx context.Context, tag string) (*provider.Session, error) {
		dec, err := newDecoder(cfg, encoding)
		if err != nil {
			return nil, errs.New(errs.KindDecoderInit, tag, "construct decoder", err)
		}

		var enc *audio.Encoder
		if e, err := audio.NewEncoder(cfg.ProviderSampleRate, codec.DefaultEncoderConfig()); err != nil {
			log.Warn("encoder init failed, outbound audio will be dropped", zap.String("tag", tag), zap.Error(err))
		} else {
			enc = e
		}

		up, err := newUpstream(cfg, log)
		if err != nil {
			return nil, errs.New(errs.KindUpstreamSocket, tag, "construct upstream", err)
		}

		sessCfg := provider.Config{
			Tag:                tag,
			ProviderSampleRate: cfg.ProviderSampleRate,
			ForceCommitTimeout: time.Duration(cfg.ForceCommitTimeoutSecs) * time.Second,
		}
		return provider.New(sessCfg, up, dec, enc, log), nil
	}
}

func newDecoder(cfg *config.Config, encoding string) (audio.Decoder, error) {
	switch audio.Encoding(encoding) {
	case audio.EncodingL16:
		return audio.NewL16Decoder(cfg.ProviderSampleRate, cfg.ProviderSampleRate)
	case audio.EncodingOpus, audio.EncodingOggOpus, "":
		return audio.NewOpusDecoder(cfg.ProviderSampleRate)
	default:
		return nil, fmt.Errorf("unsupported client encoding %q", encoding)
	}
}

func newUpstream(cfg *config.Config, log logging.Logger) (provider.Upstream, error) {
	switch cfg.TranslationProvider {
	case config.ProviderGemini:
		return provider.NewGeminiUpstream(provider.GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			SampleRate: cfg.ProviderSampleRate,
		}, log), nil
	case config.ProviderOpenAI:
		return provider.NewOpenAIUpstream(provider.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			SampleRate: cfg.ProviderSampleRate,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.TranslationProvider)
	}
}
