package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-redis/redis/v8"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/drivehub/joblist/app/queue"
	"github.com/drivehub/joblist/app/store"
	"github.com/drivehub/joblist/app/web"
)

var opts struct {
	DB           string        `long:"db" env:"JOBLIST_DB" default:"joblist.db" description:"sqlite database path"`
	Listen       string        `long:"listen" env:"JOBLIST_LISTEN" default:":8080" description:"listen address"`
	WriteTimeout time.Duration `long:"write-timeout" env:"JOBLIST_WRITE_TIMEOUT" default:"20s" description:"storage write timeout for job creation"`
	CORSOrigins  []string      `long:"cors-origin" env:"JOBLIST_CORS_ORIGINS" env-delim:"," description:"allowed cross-origin hosts"`
	CreateRate   float64       `long:"create-rate" env:"JOBLIST_CREATE_RATE" default:"10" description:"max job submissions per second"`
	Dbg          bool          `long:"dbg" env:"JOBLIST_DEBUG" description:"debug mode"`

	Fallback struct {
		Disabled bool   `long:"disabled" env:"DISABLED" description:"disable canned data on storage read failures"`
		File     string `long:"file" env:"FILE" description:"yaml file overriding the built-in fallback dataset"`
	} `group:"fallback" namespace:"fallback" env-namespace:"JOBLIST_FALLBACK"`

	Queue struct {
		Enabled           bool   `long:"enabled" env:"ENABLED" description:"enable async job creation via redis queue"`
		Redis             string `long:"redis" env:"REDIS" default:"localhost:6379" description:"redis address"`
		Prefix            string `long:"prefix" env:"PREFIX" default:"joblist" description:"redis list name prefix"`
		MaxAttempts       int    `long:"max-attempts" env:"MAX_ATTEMPTS" default:"3" description:"deliveries before dead-letter"`
		Concurrency       int    `long:"concurrency" env:"CONCURRENCY" default:"1" description:"parallel consumer workers"`
		DeadLetterWebhook string `long:"dead-letter-webhook" env:"DEAD_LETTER_WEBHOOK" description:"webhook url notified on dead-lettered messages"`

		Repeater struct {
			Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to repeat a failed write"`
			Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial repeat duration"`
			Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
			Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
		} `group:"repeater" namespace:"repeater" env-namespace:"REPEATER"`
	} `group:"queue" namespace:"queue" env-namespace:"JOBLIST_QUEUE"`

	Log struct {
		File       string `long:"file" env:"FILE" description:"log file location, stdout only if empty"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"JOBLIST_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("joblist %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] joblist failed, %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	db, err := store.NewSQLite(opts.DB, opts.WriteTimeout)
	if err != nil {
		return fmt.Errorf("failed to open store at %q: %w", opts.DB, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	webCfg := web.Config{
		Store:            db,
		Version:          revision,
		AllowedOrigins:   opts.CORSOrigins,
		FallbackDisabled: opts.Fallback.Disabled,
		FallbackFile:     opts.Fallback.File,
		CreateRateLimit:  opts.CreateRate,
	}

	if opts.Queue.Enabled {
		client := redis.NewClient(&redis.Options{Addr: opts.Queue.Redis})
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("[WARN] failed to close redis client: %v", err)
			}
		}()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", opts.Queue.Redis, err)
		}

		rptr := repeater.New(&strategy.Backoff{Repeats: opts.Queue.Repeater.Attempts, Duration: opts.Queue.Repeater.Duration,
			Factor: opts.Queue.Repeater.Factor, Jitter: opts.Queue.Repeater.Jitter})

		consumer, err := queue.NewConsumer(queue.ConsumerConfig{
			Client:      client,
			Store:       db,
			Repeater:    rptr,
			Notifier:    makeNotifier(),
			WebhookURL:  opts.Queue.DeadLetterWebhook,
			Prefix:      opts.Queue.Prefix,
			MaxAttempts: opts.Queue.MaxAttempts,
			Concurrency: opts.Queue.Concurrency,
		})
		if err != nil {
			return fmt.Errorf("failed to create queue consumer: %w", err)
		}

		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Printf("[ERROR] queue consumer failed: %v", err)
			}
		}()

		webCfg.Producer = queue.NewProducer(client, opts.Queue.Prefix)
		log.Printf("[INFO] async creation path enabled, redis %s", opts.Queue.Redis)
	}

	srv, err := web.New(webCfg)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

// makeNotifier returns a webhook sender for dead-letter alerts, nil if no
// webhook configured
func makeNotifier() *notify.Webhook {
	if opts.Queue.DeadLetterWebhook == "" {
		return nil
	}
	return notify.NewWebhook(notify.WebhookParams{
		Timeout: 5 * time.Second,
		Headers: []string{"Content-Type:application/json"},
	})
}

func setupLogs() {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.LevelBraces, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if opts.Log.File != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   opts.Log.File,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			Compress:   true,
		}
		logOpts = append(logOpts, log.Out(io.MultiWriter(os.Stdout, fileLogger)))
	}

	log.Setup(logOpts...)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM)
}
