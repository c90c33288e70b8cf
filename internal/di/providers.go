package di

import (
	"context"
	"fmt"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	"SignalPulse/internal/domain/service"
	"SignalPulse/internal/handler/api"
	"SignalPulse/internal/handler/ws"
	internalrepo "SignalPulse/internal/repository"
	sigcache "SignalPulse/internal/service/cache"
	"SignalPulse/internal/service/coingecko"
	"SignalPulse/internal/service/confluence"
	"SignalPulse/internal/service/history"
	"SignalPulse/internal/service/indicator"
	"SignalPulse/internal/service/ratelimit"
	"SignalPulse/internal/usecase"
	"SignalPulse/pkg/cache"
	pkgch "SignalPulse/pkg/clickhouse"
	"SignalPulse/pkg/config"
	xhttp "SignalPulse/pkg/http"
	pkgkafka "SignalPulse/pkg/kafka"
	applogger "SignalPulse/pkg/logger"
	"SignalPulse/pkg/metrics"
	"SignalPulse/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the app logger. Aggregated error logs are shipped to Kafka when
// the collector is enabled and a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.FlushInterval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("service", "signalpulse")), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache returns a Redis-backed layered cache when Redis is enabled, otherwise an
// in-process cache. Quota persistence and the lease then only span this process.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		l.Info("redis disabled, using in-memory cache")
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, cfg.Redis.DialTimeout),
		cache.WithRedisTimeouts(cfg.Redis.DialTimeout, cfg.Redis.ReadTimeout, cfg.Redis.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(1000),
		cache.WithLayeredMemoryTTL(5*time.Second),
	), nil
}

// ProvideClickHouseClient creates a ClickHouse client with the journal schema, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.JournalSchema(cfg.ClickHouse.Database, journalTable(cfg))); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func journalTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.ClickHouse.Table
}

// ProvideSignalJournal wraps the ClickHouse client, or returns nil when ClickHouse is disabled.
func ProvideSignalJournal(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.SignalJournal {
	if ch == nil {
		return nil
	}
	return internalrepo.NewSignalJournal(ch, journalTable(cfg), l)
}

// ProvideLimiter creates the provider request limiter and restores the persisted monthly usage.
func ProvideLimiter(cfg *config.Config, c cache.Service, m repository.Metrics, l *applogger.Logger) *ratelimit.Limiter {
	limiter := ratelimit.New(ratelimit.Config{
		Window:            cfg.RateLimit.Window,
		PerWindow:         cfg.RateLimit.PerWindow,
		MonthlyQuota:      cfg.RateLimit.MonthlyQuota,
		FailureThreshold:  cfg.RateLimit.FailureThreshold,
		Cooldown:          cfg.RateLimit.Cooldown,
		HalfOpenSuccesses: cfg.RateLimit.HalfOpenSuccesses,
	},
		ratelimit.WithQuotaStore(internalrepo.NewCacheQuotaStore(c)),
		ratelimit.WithMetrics(m),
		ratelimit.WithLogger(l),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := limiter.LoadUsage(ctx); err != nil {
		l.Warn("quota usage not restored", applogger.Error(err))
	}
	return limiter
}

// ProvidePriceProvider creates the CoinGecko-compatible market data client.
func ProvidePriceProvider(cfg *config.Config) repository.PriceProvider {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Provider.Timeout))
	return coingecko.New(client, cfg.Provider.BaseURL,
		coingecko.WithAPIKey(cfg.Provider.APIKeyHeader, cfg.Provider.APIKey),
		coingecko.WithVsCurrency(cfg.Provider.VsCurrency),
	)
}

// ProvideTrackedSymbols maps the configured symbol list.
func ProvideTrackedSymbols(cfg *config.Config) []models.TrackedSymbol {
	out := make([]models.TrackedSymbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		out = append(out, models.TrackedSymbol{
			Symbol:     s.Symbol,
			ProviderID: s.ProviderID,
			Active:     s.IsActive(),
		})
	}
	return out
}

func ProvideHistoryStore(cfg *config.Config) *history.Store {
	return history.NewStore(cfg.Timeframes)
}

func ProvideIndicatorEngine() service.IndicatorEngine {
	return indicator.New()
}

func ProvideSignalGenerator(cfg *config.Config) service.SignalGenerator {
	return confluence.New(cfg.Confluence)
}

func ProvideSignalCache() *sigcache.SignalCache {
	return sigcache.New()
}

// ProvidePriceFetcher creates the batched, limiter-gated price fetcher.
func ProvidePriceFetcher(
	cfg *config.Config,
	provider repository.PriceProvider,
	limiter *ratelimit.Limiter,
	store *history.Store,
	symbols []models.TrackedSymbol,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceFetcher {
	return usecase.NewPriceFetcher(provider, limiter, store, symbols,
		usecase.WithFetcherBatchSize(cfg.Provider.BatchSize),
		usecase.WithFetcherWorkers(cfg.Scheduler.Workers),
		usecase.WithFetcherTimeout(cfg.Scheduler.SymbolTimeout),
		usecase.WithHistoryDays(cfg.Provider.HistoryDays),
		usecase.WithFetcherMetrics(m),
		usecase.WithFetcherLogger(l),
	)
}

// ProvideHub creates the websocket push hub.
func ProvideHub(l *applogger.Logger) *ws.Hub {
	return ws.NewHub(l)
}

// ProvideSinks lists the enabled fan-out targets in publish order.
func ProvideSinks(
	cfg *config.Config,
	hub *ws.Hub,
	producer *pkgkafka.Producer,
	c cache.Service,
	journal *internalrepo.SignalJournal,
) []repository.SignalSink {
	sinks := []repository.SignalSink{hub}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic))
	}
	if cfg.Redis.Enabled {
		sinks = append(sinks, internalrepo.NewSnapshotMirror(c, cfg.Redis.MirrorTTL))
	}
	if journal != nil {
		sinks = append(sinks, journal)
	}
	return sinks
}

// ProvideCalculationCycle creates the cycle runner.
func ProvideCalculationCycle(
	cfg *config.Config,
	fetcher *usecase.PriceFetcher,
	store *history.Store,
	engine service.IndicatorEngine,
	generator service.SignalGenerator,
	signalCache *sigcache.SignalCache,
	sinks []repository.SignalSink,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.CalculationCycle {
	return usecase.NewCalculationCycle(fetcher, store, engine, generator, signalCache, cfg.Timeframes,
		usecase.WithCycleWorkers(cfg.Scheduler.Workers),
		usecase.WithCycleTimeouts(cfg.Scheduler.CycleTimeout, cfg.Scheduler.SymbolTimeout, cfg.Scheduler.SinkTimeout),
		usecase.WithSinks(sinks...),
		usecase.WithCycleMetrics(m),
		usecase.WithCycleLogger(l),
	)
}

// ProvideScheduler creates the single-flight scheduler. The lease is only taken when enabled.
func ProvideScheduler(
	cfg *config.Config,
	cycle *usecase.CalculationCycle,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	opts := []usecase.SchedulerOption{
		usecase.WithSchedulerMetrics(m),
		usecase.WithSchedulerLogger(l),
	}
	if cfg.Scheduler.Lease.Enabled {
		opts = append(opts, usecase.WithLease(c, cfg.Scheduler.Lease.Key, cfg.Scheduler.Lease.TTL))
	}
	return usecase.NewScheduler(cycle, cfg.Scheduler.Interval, opts...)
}

// ProvideKafkaConsumer creates the recompute-topic consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, scheduler *usecase.Scheduler, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.RecomputeTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewRecomputeHandler(cfg.Kafka.RecomputeTopic, scheduler, l))
	return consumer, nil
}

// ProvideSignalsHandler creates the REST handler. The history endpoint needs the journal.
func ProvideSignalsHandler(
	l *applogger.Logger,
	signalCache *sigcache.SignalCache,
	scheduler *usecase.Scheduler,
	limiter *ratelimit.Limiter,
	journal *internalrepo.SignalJournal,
) *api.SignalsEchoHandler {
	var hist api.SignalHistory
	if journal != nil {
		hist = journal
	}
	return api.NewSignalsEchoHandler(l, signalCache, scheduler, limiter, hist)
}

// ProvideHTTPServer creates the Echo server with every route group.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, signals *api.SignalsEchoHandler, hub *ws.Hub) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	return xhttp.NewServer([]xhttp.Handler{signals, hub}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	scheduler *usecase.Scheduler,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	return server.New(cfg, l, httpServer, scheduler, hub, server.Infra{
		Producer:   producer,
		Consumer:   consumer,
		ClickHouse: ch,
		Cache:      c,
	})
}
