// Package app wires the meeting bot engine from configuration. Both binaries build the same
// component graph; the server additionally mounts the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/config"
	"github.com/aura-webinar/meetbot/internal/auth"
	"github.com/aura-webinar/meetbot/internal/botdeploy"
	"github.com/aura-webinar/meetbot/internal/botsettings"
	"github.com/aura-webinar/meetbot/internal/botvendor"
	"github.com/aura-webinar/meetbot/internal/calendar"
	"github.com/aura-webinar/meetbot/internal/calendarsync"
	"github.com/aura-webinar/meetbot/internal/completion"
	"github.com/aura-webinar/meetbot/internal/insights"
	"github.com/aura-webinar/meetbot/internal/meetings"
	"github.com/aura-webinar/meetbot/internal/metrics"
	"github.com/aura-webinar/meetbot/internal/notify"
	"github.com/aura-webinar/meetbot/internal/reconcile"
	"github.com/aura-webinar/meetbot/internal/transcription"
	"github.com/aura-webinar/meetbot/internal/worker"
	"github.com/aura-webinar/meetbot/pkg/database"
	"github.com/aura-webinar/meetbot/pkg/queue"
	"github.com/aura-webinar/meetbot/pkg/redis"
	"github.com/aura-webinar/meetbot/pkg/storage"
)

// App holds the long-lived connections and components of one process.
type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Queue    *queue.Queue
	S3       *storage.S3 // nil unless recording archival is enabled

	Meetings   *meetings.Repository
	Tokens     *auth.JWTService
	Reconciler *reconcile.Reconciler

	SyncScheduler *calendarsync.Scheduler
	Poller        *reconcile.Poller
	Drainer       *botdeploy.Drainer
	Promoter      *worker.Promoter
	Processor     *worker.Processor

	Webhook    *completion.WebhookHandler
	MeetingAPI *meetings.Handler

	logger *zap.Logger
}

// New connects to PostgreSQL and Redis, applies migrations and builds every component.
// service labels the pool metrics.
func New(ctx context.Context, cfg *config.Config, service string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{Config: cfg, Pool: pool, Redis: rdb, logger: logger}
	if err := a.build(ctx, service); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, service string) error {
	cfg, logger := a.Config, a.logger

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	if err := metrics.RegisterPoolStats(a.Registry, a.Pool, service); err != nil {
		return fmt.Errorf("register pool stats: %w", err)
	}

	a.Queue = queue.NewQueue(a.Redis.Client, logger)
	a.Meetings = meetings.NewRepository(a.Pool)
	a.Tokens = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpireHours)

	settings := botsettings.NewRepository(a.Pool)
	vendor := botvendor.NewHTTPClient(cfg.BotVendor.BaseURL, cfg.BotVendor.APIKey, nil)
	wakeups := botdeploy.NewWakeupRepository(a.Pool)

	if cfg.AWS.ArchiveEnabled {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		a.S3 = s3Client
	}
	archiveEnabled := a.S3 != nil

	a.Reconciler = reconcile.NewReconciler(a.Meetings, a.Queue, archiveEnabled, a.Metrics, logger)
	a.Poller = reconcile.NewPoller(a.Meetings, vendor, a.Reconciler, a.Metrics, logger)
	a.SyncScheduler = calendarsync.NewScheduler(settings, a.Queue, a.Metrics, logger)
	a.Drainer = botdeploy.NewDrainer(wakeups, a.Queue, a.Metrics, logger)
	a.Promoter = worker.NewPromoter(a.Queue, logger)

	syncWorker := calendarsync.NewWorker(calendar.NewConnectionRepository(a.Pool), calendar.NewGoogleClient(cfg.Calendar.BaseURL, nil),
		a.Meetings, a.Queue, cfg.Scheduler.SyncHorizon, a.Metrics, logger)
	deployer := botdeploy.NewScheduler(a.Meetings, settings, vendor, wakeups, botdeploy.Options{
		JoinLead:           cfg.Scheduler.JoinLead,
		WebhookURL:         cfg.BotVendor.WebhookURL(),
		WaitingRoomTimeout: cfg.BotVendor.WaitingRoomTimeout,
	}, a.Metrics, logger)

	var stt completion.SpeechToText
	if cfg.Transcription.Enabled() {
		stt = transcription.NewClient(cfg.Transcription.BaseURL, cfg.Transcription.APIKey, nil)
	} else {
		logger.Warn("speech-to-text not configured; completion uses vendor transcripts only")
	}
	pipeline := completion.NewPipeline(a.Meetings, vendor, stt, a.Queue, a.Metrics, logger)

	llm := insights.NewAnthropicClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, nil)
	notifier := notify.NewRedisNotifier(a.Redis.Client, logger)
	generator := insights.NewGenerator(a.Meetings, llm, notifier, cfg.LLM.MaxTranscriptChars, a.Metrics, logger)

	handlers := worker.Handlers{Sync: syncWorker, Deploy: deployer, Complete: pipeline, Insights: generator}
	var signer meetings.RecordingSigner
	if a.S3 != nil {
		handlers.Archiver = completion.NewRecordingArchiver(a.Meetings, a.S3, &http.Client{Timeout: 30 * time.Minute}, logger)
		signer = a.S3
	}
	a.Processor = worker.NewProcessor(a.Queue, handlers, a.Metrics, logger)

	a.Webhook = completion.NewWebhookHandler(a.Meetings, a.Reconciler, a.Queue, cfg.Webhook.Secret, archiveEnabled, a.Metrics, logger)
	a.MeetingAPI = meetings.NewHandler(a.Meetings, a.Queue, signer, logger)
	return nil
}

// StartBackground starts the task consumer and the cron jobs. Both stop when ctx is
// cancelled; the returned channel closes once they have.
func (a *App) StartBackground(ctx context.Context) (<-chan struct{}, error) {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(a.logger.Named("cron")))
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	jobs := []struct {
		spec string
		job  cron.Job
	}{
		{a.Config.Scheduler.SyncSpec, a.SyncScheduler},
		{a.Config.Scheduler.PollSpec, a.Poller},
		{a.Config.Scheduler.WakeupSpec, a.Drainer},
		{a.Config.Scheduler.PromoteSpec, a.Promoter},
	}
	for _, j := range jobs {
		if _, err := c.AddJob(j.spec, j.job); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", j.spec, err)
		}
	}
	c.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Processor.Run(ctx)
		<-c.Stop().Done()
	}()
	a.logger.Info("background jobs started",
		zap.String("sync", a.Config.Scheduler.SyncSpec),
		zap.String("poll", a.Config.Scheduler.PollSpec),
		zap.String("wakeup", a.Config.Scheduler.WakeupSpec))
	return done, nil
}

// Close releases the database pool and the Redis client.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
