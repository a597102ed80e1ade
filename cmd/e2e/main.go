package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"batchpub/internal/couchbase"
	"batchpub/internal/pub"
	"batchpub/internal/pub/controller"
	"batchpub/internal/pub/metrics"
	"batchpub/internal/pub/producer"
	"batchpub/internal/pub/tracing"
	"batchpub/internal/scheduler"
	"batchpub/internal/transport"
	"batchpub/internal/transport/ledger"
	"batchpub/internal/transport/natsjs"
	"batchpub/internal/transport/wmpub"
)

type Config struct {
	Transport                 string        `env:"TRANSPORT" envDefault:"couchbase"` // couchbase, jetstream, redisstream
	Topic                     string        `env:"TOPIC" envDefault:"orders"`
	Ordering                  bool          `env:"MESSAGE_ORDERING" envDefault:"true"`
	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	MessageRetention          time.Duration `env:"MESSAGE_RETENTION" envDefault:"168h"`
	TransactionTimeout        time.Duration `env:"COUCHBASE_TRANSACTION_TIMEOUT" envDefault:"10s"`
	InsertConcurrency         int           `env:"LEDGER_INSERT_CONCURRENCY" envDefault:"8"`
	NatsURL                   string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsStream                string        `env:"NATS_STREAM" envDefault:"PUB"`
	RedisAddr                 string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword             string        `env:"REDIS_PASSWORD"`
	RedisDB                   int           `env:"REDIS_DB" envDefault:"0"`
	EventCount                int           `env:"EVENT_COUNT" envDefault:"100"`
	PublishRoundsPerSec       int           `env:"PUBLISH_ROUNDS_PER_SEC" envDefault:"1"`
	PublishRounds             int           `env:"PUBLISH_ROUNDS" envDefault:"1"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
	Profile                   bool          `env:"PROFILE" envDefault:"false"`

	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}
	publisherOpts, err := pub.OptionsFromEnv()
	if err != nil {
		log.Fatalf("invalid publisher options: %v", err)
	}

	if cfg.Profile {
		stop := startProfiling()
		defer stop()
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var ready atomic.Bool
	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-test", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, ready.Load, logger)

	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("jaeger_endpoint", cfg.Tracing.JaegerEndpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	baseTransport, closeTransport, err := newTransport(cfg, metricsRegistry, tracer, logger)
	if err != nil {
		log.Fatalf("failed to create %s transport: %v", cfg.Transport, err)
	}
	defer func() {
		if err := closeTransport(); err != nil {
			logger.Error("failed to close transport", zap.Error(err))
		}
	}()

	metricsTransport := transport.NewMetricsTransport(baseTransport, metricsRegistry)
	tr := transport.NewTracedTransport(metricsTransport, tracer)

	executor := scheduler.NewExecutor(logger)
	basePublisher, err := producer.New(cfg.Topic, publisherOpts, cfg.Ordering, tr, executor, logger)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	publisher := producer.NewMetricsPublisher(basePublisher, cfg.Topic, metricsRegistry)
	ready.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	now := time.Now()
	var (
		published atomic.Int64
		failed    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Second / time.Duration(max(cfg.PublishRoundsPerSec, 1)))
		defer ticker.Stop()

		for round := 0; round < cfg.PublishRounds; round++ {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}

			results := make([]*pub.Result, 0, cfg.EventCount)
			for _, msg := range events(cfg.EventCount) {
				results = append(results, publisher.Publish(msg))
			}
			publisher.Flush()

			// results are waited on concurrently so a slow key does not hold
			// back reporting of the others
			g.Go(func() error {
				for _, r := range results {
					if _, err := r.Get(gctx); err != nil {
						if errors.Is(err, context.Canceled) {
							return err
						}
						failed.Add(1)
						logger.Warn("publish failed", zap.Error(err))
						continue
					}
					published.Add(1)
				}
				return nil
			})
			logger.Info("published round", zap.Int("round", round+1), zap.Int("events", len(results)))
		}

		logger.Info("publish rounds complete, stopping producer")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("error in goroutine", zap.Error(err))
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := publisher.Close(shutdownCtx); err != nil {
		logger.Error("failed to close publisher", zap.Error(err))
	}
	if err := executor.Wait(); err != nil {
		logger.Error("scheduler task failed", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	logger.Info("test complete",
		zap.Int64("published", published.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(now)),
	)
}

// newTransport builds the transport selected by cfg.Transport together with a
// function releasing its connections.
func newTransport(cfg Config, registry *metrics.Registry, tracer *tracing.Tracer, logger *zap.Logger) (pub.Transport, func() error, error) {
	switch cfg.Transport {
	case "couchbase":
		cluster, bucket, err := newCouchbase(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		closeCluster := func() error { return cluster.Close(nil) }

		messages, err := pub.NewMessagesStore(cluster, bucket, cfg.CouchbaseScopeName)
		if err != nil {
			return nil, closeCluster, fmt.Errorf("failed to create messages store: %w", err)
		}
		offsets, err := pub.NewOffsetsStore(cluster, bucket, cfg.CouchbaseScopeName)
		if err != nil {
			return nil, closeCluster, fmt.Errorf("failed to create offsets store: %w", err)
		}
		transactions, err := couchbase.NewTransactions(cluster, cfg.TransactionTimeout)
		if err != nil {
			return nil, closeCluster, fmt.Errorf("failed to create transactions: %w", err)
		}

		baseController, err := controller.NewController(messages, offsets, transactions, cfg.MessageRetention)
		if err != nil {
			return nil, closeCluster, fmt.Errorf("failed to create controller: %w", err)
		}
		metricsController := controller.NewMetricsController(baseController, registry)
		ctlr := controller.NewTracedController(metricsController, tracer)

		t, err := ledger.New(ctlr, cfg.InsertConcurrency, logger)
		if err != nil {
			return nil, closeCluster, err
		}
		return t, messages.Close, nil

	case "jetstream":
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("batchpub-e2e"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t, err := natsjs.New(nc, cfg.NatsStream, logger)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return t, func() error { return nc.Drain() }, nil

	case "redisstream":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		t, err := wmpub.NewRedisStream(client, logger)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return t, func() error {
			return errors.Join(t.Close(), client.Close())
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func events(count int) []pub.Message {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	msgs := make([]pub.Message, 0, count)

	for i := 0; i < count; i++ {
		orderID := fmt.Sprintf("ORD-%04d", i+1)
		customerID := customers[rand.Intn(len(customers))]
		productID := products[rand.Intn(len(products))]
		amount := 10.0 + rand.Float64()*990.0

		msgs = append(msgs, pub.Message{
			Data: []byte(fmt.Sprintf(
				`{"order_id":%q,"customer_id":%q,"product_id":%q,"amount":%.2f,"timestamp":%q}`,
				orderID, customerID, productID, amount, time.Now().Format(time.RFC3339),
			)),
			Attributes:  map[string]string{"type": "order"},
			OrderingKey: customerID,
		})
	}

	return msgs
}

func startProfiling() func() {
	cpuProfile, err := os.Create("cpu.pprof")
	if err != nil {
		log.Fatal("could not create CPU profile: ", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		log.Fatal("could not start CPU profile: ", err)
	}

	return func() {
		pprof.StopCPUProfile()
		cpuProfile.Close()

		memProfile, err := os.Create("mem.pprof")
		if err != nil {
			log.Printf("could not create memory profile: %v", err)
			return
		}
		defer memProfile.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(memProfile); err != nil {
			log.Printf("could not write memory profile: %v", err)
		}
	}
}

func newCouchbase(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.CouchbaseBucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
