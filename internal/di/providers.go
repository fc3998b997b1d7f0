package di

import (
	"context"
	"fmt"
	"net"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"MirrorTrader/internal/correlator"
	"MirrorTrader/internal/detector"
	"MirrorTrader/internal/domain/models"
	domrepo "MirrorTrader/internal/domain/repository"
	"MirrorTrader/internal/executor"
	"MirrorTrader/internal/handler/api"
	"MirrorTrader/internal/quota"
	internalrepo "MirrorTrader/internal/repository"
	"MirrorTrader/internal/scheduler"
	"MirrorTrader/internal/service/broker"
	"MirrorTrader/internal/service/chat"
	"MirrorTrader/internal/service/video"
	"MirrorTrader/internal/usecase"
	"MirrorTrader/pkg/cache"
	pkgch "MirrorTrader/pkg/clickhouse"
	"MirrorTrader/pkg/config"
	xhttp "MirrorTrader/pkg/http"
	pkgkafka "MirrorTrader/pkg/kafka"
	"MirrorTrader/pkg/logger"
	"MirrorTrader/pkg/metrics"
	"MirrorTrader/pkg/server"
	"MirrorTrader/pkg/util"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := &logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" && cfg.Environment != "production" {
		lc.Format = "console"
	}
	return logger.New(lc)
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	return host, util.ParseIntDefault(portStr, 6379)
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, port := splitAddr(cfg.Redis.Addr)
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "mirrortrader"
	}
	return cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(prefix),
	)
}

// ProvideCacheService picks a memory-fronted Redis cache when Redis is
// available, process memory otherwise. The memory layer absorbs the repeated
// liveness lookups inside one poll cycle.
func ProvideCacheService(redis *cache.RedisCache) cache.Service {
	if redis != nil {
		return cache.NewLayeredCache(redis)
	}
	return cache.NewMemoryCache()
}

// ProvideQuotaCounter backs the quota ledger with Redis when available so the
// day's spend survives restarts.
func ProvideQuotaCounter(redis *cache.RedisCache) domrepo.QuotaCounter {
	if redis != nil {
		return internalrepo.NewRedisQuotaCounter(redis.Client(), "quota")
	}
	return internalrepo.NewMemoryQuotaCounter()
}

// ProvideQuotaLedger creates the daily budget ledger.
func ProvideQuotaLedger(cfg *config.Config, counter domrepo.QuotaCounter) (*quota.Ledger, error) {
	return quota.New(counter, cfg.Quota.DailyLimit, cfg.Quota.Timezone)
}

// ProvideVideoClient creates the video platform API client.
func ProvideVideoClient(cfg *config.Config, log *logger.Logger) domrepo.LivenessAPI {
	return video.New(video.Config{
		APIBaseURL:  cfg.Video.APIBaseURL,
		FeedBaseURL: cfg.Video.FeedBaseURL,
		APIKey:      cfg.Video.APIKey,
		Timeout:     cfg.Video.Timeout,
	}, log)
}

// ProvideGormDB opens Postgres, or returns nil when it is disabled.
func ProvideGormDB(cfg *config.Config) (*gorm.DB, error) {
	if !cfg.Postgres.Enabled {
		return nil, nil
	}
	return internalrepo.OpenPostgres(cfg.Postgres.DSN)
}

// ProvideChannelStore serves channels from Postgres, falling back to the
// rows in the config file.
func ProvideChannelStore(cfg *config.Config, db *gorm.DB) domrepo.ChannelStore {
	if db != nil {
		return internalrepo.NewGormChannelStore(db)
	}
	chs := make([]*models.MonitoredChannel, 0, len(cfg.Channels))
	for _, row := range cfg.Channels {
		chs = append(chs, &models.MonitoredChannel{
			ID:         row.ID,
			ExternalID: row.ExternalID,
			TraderID:   row.TraderID,
			Active:     row.Active,
		})
	}
	return internalrepo.NewMemoryChannelStore(chs)
}

// ProvidePolicyStore serves risk policies from Postgres, falling back to the
// static policy in the config file.
func ProvidePolicyStore(cfg *config.Config, db *gorm.DB) domrepo.PolicyStore {
	if db != nil {
		return internalrepo.NewGormPolicyStore(db)
	}
	p := cfg.Executor.Policy
	perTrader := make([]models.TraderCopySettings, 0, len(p.Traders))
	for _, tr := range p.Traders {
		perTrader = append(perTrader, models.TraderCopySettings{
			BotID:                  cfg.Executor.BotID,
			TraderID:               tr.TraderID,
			Enabled:                tr.Enabled,
			CopyMultiplier:         tr.CopyMultiplier,
			MaxLossPerTrade:        tr.MaxLossPerTrade,
			OnlyPrimaryInstruments: tr.OnlyPrimaryInstruments,
			PrimaryInstruments:     tr.PrimaryInstruments,
		})
	}
	return internalrepo.NewMemoryPolicyStore(models.BotRiskPolicy{
		BotID:               cfg.Executor.BotID,
		PerTrader:           perTrader,
		Enabled:             p.Enabled,
		AutoExecute:         p.AutoExecute,
		MaxDailyLoss:        p.MaxDailyLoss,
		MaxPositionSize:     p.MaxPositionSize,
		MaxConcurrentTrades: p.MaxConcurrentTrades,
		MaxDailyTrades:      p.MaxDailyTrades,
		AllowedSymbols:      p.AllowedSymbols,
		AllowLongs:          p.AllowLongs,
		AllowShorts:         p.AllowShorts,
		Timezone:            p.Timezone,
	})
}

// ProvideMarketHours creates the trading-window clock.
func ProvideMarketHours(cfg *config.Config) (scheduler.MarketHours, error) {
	mh := cfg.Scheduler.MarketHours
	return scheduler.NewMarketHours(mh.Enabled, mh.Open, mh.Close, mh.Timezone, mh.WeekdaysOnly)
}

// ProvideScheduler creates the liveness scheduler.
func ProvideScheduler(
	ledger *quota.Ledger,
	apiClient domrepo.LivenessAPI,
	channels domrepo.ChannelStore,
	c cache.Service,
	hours scheduler.MarketHours,
	m domrepo.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *scheduler.Scheduler {
	var opts []scheduler.Option
	if cfg.Scheduler.Pacing > 0 {
		opts = append(opts, scheduler.WithPacing(cfg.Scheduler.Pacing))
	}
	if cfg.Scheduler.CacheTTL > 0 {
		opts = append(opts, scheduler.WithCacheTTL(cfg.Scheduler.CacheTTL))
	}
	if cfg.Scheduler.MaxCandidates > 0 {
		opts = append(opts, scheduler.WithMaxCandidates(cfg.Scheduler.MaxCandidates))
	}
	return scheduler.New(ledger, apiClient, channels, c, hours, m, log, opts...)
}

// ProvidePoller creates the poll usecase.
func ProvidePoller(
	sched *scheduler.Scheduler,
	ledger *quota.Ledger,
	m domrepo.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *usecase.Poller {
	return usecase.NewPoller(sched, ledger, m, log, cfg.Quota.SafetyFloor)
}

// ProvideClickHouseClient connects to ClickHouse and ensures the ledger
// table exists, or returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	table := ch.Table
	if table == "" {
		table = "trade_ledger"
	}
	if err := client.InitSchema(context.Background(), internalrepo.TradeLedgerSchema(table)); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideTradeStore creates the trade ledger store; nil means trades stay
// in memory only.
func ProvideTradeStore(cfg *config.Config, client *pkgch.Client) domrepo.TradeStore {
	if client == nil {
		return nil
	}
	table := cfg.ClickHouse.Table
	if table == "" {
		table = "trade_ledger"
	}
	return internalrepo.NewClickHouseTradeStore(client.DB(), table)
}

// ProvideKafkaProducer creates the event producer, or nil when Kafka is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	return pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithBatchSize(k.Producer.BatchSize),
		pkgkafka.WithBatchBytes(k.Producer.BatchBytes),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
}

// ProvideLocalPublisher creates the in-process event bus used when Kafka is
// disabled.
func ProvideLocalPublisher() *internalrepo.LocalTradePublisher {
	return internalrepo.NewLocalTradePublisher()
}

// ProvideTradePublisher routes trade events over Kafka when available,
// in process otherwise.
func ProvideTradePublisher(cfg *config.Config, producer *pkgkafka.Producer, local *internalrepo.LocalTradePublisher) domrepo.TradePublisher {
	if producer != nil {
		return internalrepo.NewKafkaTradePublisher(producer, cfg.Kafka.Topic)
	}
	return local
}

// ProvideTicks builds the per-symbol tick geometry table.
func ProvideTicks(cfg *config.Config) map[string]models.TickSpec {
	ticks := make(map[string]models.TickSpec, len(cfg.Correlator.Ticks))
	for symbol, row := range cfg.Correlator.Ticks {
		ticks[symbol] = models.TickSpec{TickSize: row.TickSize, TickValue: row.TickValue}
	}
	return ticks
}

// ProvideCorrelator creates the signal correlator.
func ProvideCorrelator(
	ticks map[string]models.TickSpec,
	store domrepo.TradeStore,
	pub domrepo.TradePublisher,
	m domrepo.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *correlator.Correlator {
	var opts []correlator.Option
	if cfg.Correlator.Window > 0 {
		opts = append(opts, correlator.WithWindow(cfg.Correlator.Window))
	}
	return correlator.New(ticks, store, pub, m, log, opts...)
}

// ProvideVisionDetector creates the frame analysis client.
func ProvideVisionDetector(cfg *config.Config, log *logger.Logger) domrepo.VisionDetector {
	return detector.NewVisionClient(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Timeout, log)
}

// ProvideVerbalDetector creates the chat signal parser.
func ProvideVerbalDetector() domrepo.VerbalDetector {
	return detector.NewVerbalDetector(detector.DefaultSymbols)
}

// ProvideAnalyzer creates the analyze usecase.
func ProvideAnalyzer(
	vision domrepo.VisionDetector,
	verbal domrepo.VerbalDetector,
	corr *correlator.Correlator,
	store domrepo.TradeStore,
	channels domrepo.ChannelStore,
	m domrepo.Metrics,
	log *logger.Logger,
) *usecase.Analyzer {
	return usecase.NewAnalyzer(vision, verbal, corr, store, channels, m, log)
}

// ProvideBroker creates the brokerage client.
func ProvideBroker(cfg *config.Config, log *logger.Logger) domrepo.Broker {
	b := cfg.Executor.Broker
	return broker.New(broker.Config{
		BaseURL:  b.BaseURL,
		Username: b.Username,
		Password: b.Password,
		Account:  b.Account,
		Timeout:  b.Timeout,
		DryRun:   b.DryRun,
	}, log)
}

// ProvideExecutor creates the risk-gated order executor.
func ProvideExecutor(
	cfg *config.Config,
	policies domrepo.PolicyStore,
	b domrepo.Broker,
	m domrepo.Metrics,
	log *logger.Logger,
) *executor.Executor {
	var opts []executor.Option
	if cfg.Executor.MinConfidence > 0 {
		opts = append(opts, executor.WithMinConfidence(cfg.Executor.MinConfidence))
	}
	return executor.New(cfg.Executor.BotID, policies, b, m, log, opts...)
}

// ProvideTradeEventHandler creates the consumer-side event handler.
func ProvideTradeEventHandler(cfg *config.Config, exec *executor.Executor, log *logger.Logger) *usecase.TradeEventHandler {
	return usecase.NewTradeEventHandler(cfg.Kafka.Topic, exec, log)
}

// ProvideKafkaConsumer creates the trade event consumer, or nil when Kafka
// is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	groupID := k.Consumer.GroupID
	if groupID == "" {
		groupID = "mirrortrader-executor"
	}
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(groupID),
	}
	if k.Consumer.Workers > 0 {
		opts = append(opts, pkgkafka.WithConsumerWorkers(k.Consumer.Workers))
	}
	if k.Consumer.BufferSize > 0 {
		opts = append(opts, pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize))
	}
	if k.Consumer.RetryMax > 0 {
		opts = append(opts, pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax))
	}
	if k.Consumer.DLQTopic != "" {
		opts = append(opts, pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic))
	}
	if k.Consumer.MinBytes > 0 && k.Consumer.MaxBytes > 0 {
		opts = append(opts, pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes))
	}
	return pkgkafka.NewConsumer(opts...)
}

// ProvideChatFactory builds chat connections for live streams, or nil when
// chat ingestion is disabled.
func ProvideChatFactory(cfg *config.Config, log *logger.Logger) func() domrepo.ChatStream {
	if !cfg.Chat.Enabled {
		return nil
	}
	return func() domrepo.ChatStream {
		return chat.New(chat.Config{
			WebsocketURL:   cfg.Chat.WebsocketURL,
			APIKey:         cfg.Chat.APIKey,
			ReconnectDelay: cfg.Chat.ReconnectDelay,
			PingInterval:   cfg.Chat.PingInterval,
		}, log)
	}
}

// ProvideAuthMiddleware creates the bearer-token guard for the API group.
func ProvideAuthMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	return api.BearerAuth(cfg.Environment, cfg.Server.AuthToken)
}

// ProvidePollHandler creates the poll HTTP handler.
func ProvidePollHandler(log *logger.Logger, poller *usecase.Poller, auth echo.MiddlewareFunc) *api.PollHandler {
	return api.NewPollHandler(log, poller, auth)
}

// ProvideAnalyzeHandler creates the analyze HTTP handler.
func ProvideAnalyzeHandler(log *logger.Logger, analyzer *usecase.Analyzer, auth echo.MiddlewareFunc) *api.AnalyzeHandler {
	return api.NewAnalyzeHandler(log, analyzer, auth)
}

// ProvideApp assembles the application. When Kafka is off, trade events are
// dispatched in process straight into the executor so entries and exits for
// one stream keep their order.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	pollHandler *api.PollHandler,
	analyzeHandler *api.AnalyzeHandler,
	poller *usecase.Poller,
	analyzer *usecase.Analyzer,
	eventHandler *usecase.TradeEventHandler,
	consumer *pkgkafka.Consumer,
	local *internalrepo.LocalTradePublisher,
	chatFactory func() domrepo.ChatStream,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	redis *cache.RedisCache,
	store domrepo.TradeStore,
) *server.App {
	if consumer == nil {
		local.Subscribe(eventHandler.OnEvent)
	}
	return server.New(server.Deps{
		Config:       cfg,
		Logger:       log,
		Handlers:     []xhttp.Handler{pollHandler, analyzeHandler},
		Poller:       poller,
		Analyzer:     analyzer,
		Consumer:     consumer,
		EventHandler: eventHandler,
		ChatFactory:  chatFactory,
		ClickHouse:   chClient,
		Producer:     producer,
		Redis:        redis,
		TradeStore:   store,
	})
}
