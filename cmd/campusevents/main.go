package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"campusevents/internal/account"
	"campusevents/internal/catalog"
	"campusevents/internal/config"
	"campusevents/internal/ics"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/notify"
	"campusevents/internal/saved"
	"campusevents/internal/store"
	"campusevents/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		// First run with an unwritable config directory: keep the defaults.
		appLog.Error("failed to write default config", err, "config_path", flags.configPath)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetFormat(conf.Log.Format)
	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
		// Debug runs keep state next to the working directory.
		conf.Database = filepath.Join("cache", "campusevents.db")
		conf.Catalog.CacheDir = filepath.Join("cache", "ics-cache")
	}

	appLog.Info("campusevents starting", "version", "0.1.0")

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"database", conf.Database,
		"seed", conf.Catalog.Seed,
		"catalog_files", len(conf.Catalog.Files),
		"ics_count", len(conf.Catalog.ICS),
		"refresh", conf.Catalog.Refresh,
		"once", flags.once,
		"debug", flags.debug,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	cat := catalog.New(loc, nil)
	loader := newLoader(conf, loc)
	if err := loader.Refresh(ctx, cat, time.Now()); err != nil {
		appLog.Error("initial catalog load incomplete", err)
	}

	if flags.once {
		for _, cc := range cat.Categories() {
			appLog.Info("catalog category", "category", cc.Category, "events", cc.Count)
		}
		appLog.Info("catalog loaded; exiting", "events", cat.Len())
		return
	}

	db, err := store.Open(conf.Database)
	if err != nil {
		appLog.Error("failed to open database", err, "path", conf.Database)
		os.Exit(1)
	}
	defer db.Close()

	runner := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(notify.CronLogger{}),
		cron.WithChain(cron.Recover(notify.CronLogger{})),
	)

	reminders := notify.New(runner, newDeliverer(conf))
	docs := store.NewDocuments(db)
	accounts := account.New(db, account.Options{
		MinPasswordLength: conf.Auth.MinPasswordLength,
		MaxFailedAttempts: conf.Auth.MaxFailedAttempts,
		Lockout:           time.Duration(conf.Auth.LockoutMinutes) * time.Minute,
		ReauthWindow:      time.Duration(conf.Auth.ReauthWindowMinutes) * time.Minute,
	})
	sync := saved.New(docs, cat, reminders, saved.Options{
		Location:           loc,
		DefaultLeadMinutes: conf.Reminders.DefaultLeadMinutes,
		Title:              conf.Reminders.Title,
	})

	// The synchronizer switches users before sign-in and sign-out return.
	stopObserving := accounts.Observe(sync.Adopt)
	unsubscribe := accounts.Subscribe(func(sess *model.Session) {
		if sess == nil {
			appLog.Info("session changed", "signed_in", false)
			return
		}
		appLog.Info("session changed", "signed_in", true, "uid", sess.UID)
	})

	if sess, err := accounts.Reload(ctx); err != nil {
		appLog.Error("failed to restore session", err)
	} else if sess != nil {
		appLog.Info("session restored", "uid", sess.UID)
	}

	refresh := cron.NewChain(cron.SkipIfStillRunning(notify.CronLogger{})).Then(cron.FuncJob(func() {
		if err := loader.Refresh(ctx, cat, time.Now()); err != nil {
			appLog.Error("catalog refresh incomplete", err)
		}
	}))
	if _, err := runner.AddJob(conf.Catalog.Refresh, refresh); err != nil {
		appLog.Error("invalid catalog refresh schedule; periodic refresh disabled", err, "refresh", conf.Catalog.Refresh)
	}
	runner.Start()

	srv := web.NewServer(conf, web.Deps{
		Catalog:   cat,
		Accounts:  accounts,
		Documents: docs,
		Saved:     sync,
		Reminders: reminders,
		Location:  loc,
	})
	if err := srv.Serve(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	<-runner.Stop().Done()
	stopObserving()
	unsubscribe()
	sync.Close()
	appLog.Info("campusevents exiting")
}

func newLoader(conf *config.Config, loc *time.Location) *catalog.Loader {
	feeds := make([]ics.Feed, 0, len(conf.Catalog.ICS))
	for _, f := range conf.Catalog.ICS {
		if f.URL == "" {
			continue
		}
		feeds = append(feeds, ics.Feed{
			ID:       f.FeedID(),
			URL:      f.URL,
			Category: model.ParseCategory(f.Category),
		})
	}

	return &catalog.Loader{
		Seed:        conf.Catalog.Seed,
		Files:       conf.Catalog.Files,
		Feeds:       feeds,
		Fetcher:     ics.NewFetcher(conf.Catalog.CacheDir, &http.Client{Timeout: 30 * time.Second}),
		HorizonDays: conf.Catalog.HorizonDays,
		Location:    loc,
	}
}

func newDeliverer(conf *config.Config) notify.Deliverer {
	if conf.Reminders.WebhookURL == "" {
		return notify.LogDeliverer{}
	}
	return notify.Multi{notify.LogDeliverer{}, notify.NewWebhookDeliverer(conf.Reminders.WebhookURL)}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/campusevents/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the event catalog once, log a summary and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging; keep database and caches under ./cache")

	flag.Parse()

	return cfg
}
