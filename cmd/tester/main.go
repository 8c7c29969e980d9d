package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/jetstream"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

const defaultBatchSize = 50

// Customer lines mixed into the fake traffic so the scoring and transfer paths fire.
var customerLines = []string{
	"oi, bom dia",
	"tenho um precatório de R$ 85.000,00 em SP",
	"quanto vocês pagam por um precatório?",
	"é urgente, preciso logo",
	"quero falar com atendente",
	"como funciona a antecipação?",
	"meu processo é do TJ-RJ, valor de 120 mil",
	"tenho interesse",
}

// publishTask is one event to generate and publish.
type publishTask struct {
	BaseSubject string
	CompanyID   string
	Phone       string
}

// generator publishes fake inbound traffic for a fixed population of customers.
type generator struct {
	client  jetstream.ClientInterface
	phones  []string
	channel model.Channel
	wg      sync.WaitGroup
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", string(model.V1MessagesUpsert)+","+string(model.V1LeadsEnrichment), "Comma-separated base subjects")
	rate := flag.Int("rate", 50, "Target events per second (total)")
	duration := flag.Duration("duration", time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Publishing workers")
	companyIDsStr := flag.String("company_ids", cfg.Company.ID, "Comma-separated company IDs")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Events per worker batch")
	customers := flag.Int("customers", 200, "Distinct customer phones to cycle through")
	metricsPort := flag.Int("metrics-port", 9091, "Port for the Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Handoff inbound load generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes fake WhatsApp messages and enrichment events to the inbound stream.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}
	if *rate <= 0 || *customers <= 0 {
		fmt.Println("rate and customers must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	observer.InitMetrics(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)

	subjects := splitList(*subjectsStr)
	companyIDs := splitList(*companyIDsStr)
	if len(subjects) == 0 || len(companyIDs) == 0 {
		logger.Log.Fatal("At least one subject and one company id are required")
	}

	logger.Log.Info("Starting load generator",
		zap.String("nats_url", *natsURL),
		zap.Strings("subjects", subjects),
		zap.Strings("company_ids", companyIDs),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("customers", *customers),
	)

	client, err := jetstream.NewClient(*natsURL, "daisi-wa-handoff-loadgen")
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer client.Close()

	gofakeit.Seed(time.Now().UnixNano())
	gen := &generator{client: client, channel: model.ChannelEvolution}
	for i := 0; i < *customers; i++ {
		gen.phones = append(gen.phones, model.FakePhone())
	}

	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		gen.publishBatch(data.([]publishTask))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	gen.run(ctx, pool, *rate, *duration, *batchSize, subjects, companyIDs)

	logger.Log.Info("Waiting for in-flight batches")
	gen.wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Metrics server shutdown error", zap.Error(err))
	}
	logger.Log.Info("Load generator finished")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Log.Info("Starting metrics server", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server error", zap.Error(err))
		}
	}()
	return server
}

// run ticks at rate, batching tasks into the pool until duration passes or ctx ends.
func (g *generator) run(ctx context.Context, pool *ants.PoolWithFunc, rate int, duration time.Duration, batchSize int, subjects, companies []string) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	batch := make([]publishTask, 0, batchSize)
	submit := func() {
		if len(batch) == 0 {
			return
		}
		g.wg.Add(1)
		if err := pool.Invoke(batch); err != nil {
			g.wg.Done()
			logger.Log.Warn("Failed to submit batch", zap.Int("size", len(batch)), zap.Error(err))
			for _, t := range batch {
				observer.IncLoadgenPublishErrors(t.BaseSubject, t.CompanyID)
			}
		}
		batch = make([]publishTask, 0, batchSize)
	}

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			submit()
			return
		case <-deadline.C:
			submit()
			return
		case <-ticker.C:
			task := publishTask{
				BaseSubject: subjects[n%len(subjects)],
				CompanyID:   companies[n%len(companies)],
				Phone:       g.phones[gofakeit.Number(0, len(g.phones)-1)],
			}
			observer.IncLoadgenMessagesAttempted(task.BaseSubject, task.CompanyID)
			batch = append(batch, task)
			if len(batch) >= batchSize {
				submit()
			}
		}
	}
}

func (g *generator) publishBatch(batch []publishTask) {
	defer g.wg.Done()
	for _, t := range batch {
		subject := fmt.Sprintf("%s.%s", t.BaseSubject, t.CompanyID)
		payload, msgID, err := g.payloadFor(t)
		if err != nil {
			logger.Log.Error("Failed to build payload", zap.String("subject", subject), zap.Error(err))
			observer.IncLoadgenPublishErrors(t.BaseSubject, t.CompanyID)
			continue
		}
		if err := g.client.Publish(subject, payload, msgID); err != nil {
			logger.Log.Error("Failed to publish", zap.String("subject", subject), zap.Error(err))
			observer.IncLoadgenPublishErrors(t.BaseSubject, t.CompanyID)
			continue
		}
		observer.IncLoadgenMessagesPublished(t.BaseSubject, t.CompanyID)
	}
}

// payloadFor builds the JSON body and the dedup id for one task.
func (g *generator) payloadFor(t publishTask) ([]byte, string, error) {
	switch model.EventType(t.BaseSubject) {
	case model.V1MessagesUpsert:
		text := gofakeit.Sentence(8)
		if gofakeit.Bool() {
			text = customerLines[gofakeit.Number(0, len(customerLines)-1)]
		}
		p := model.NewInboundMessagePayload(&model.InboundMessagePayload{
			CompanyID:  t.CompanyID,
			Channel:    g.channel,
			ChannelRef: "loadgen",
			Phone:      t.Phone,
			Text:       text,
		})
		data, err := json.Marshal(p)
		return data, p.MessageID, err
	case model.V1LeadsEnrichment:
		p := model.NewEnrichmentPayload(&model.EnrichmentPayload{
			CompanyID: t.CompanyID,
			Phone:     t.Phone,
		})
		data, err := json.Marshal(p)
		return data, "", err
	default:
		return nil, "", fmt.Errorf("unsupported subject %q", t.BaseSubject)
	}
}
