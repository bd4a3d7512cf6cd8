package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"guardsched/internal/api"
	"guardsched/internal/config"
	"guardsched/internal/events"
	"guardsched/internal/ics"
	appLog "guardsched/internal/log"
	"guardsched/internal/metrics"
	"guardsched/internal/scheduler"
	"guardsched/internal/session"
	"guardsched/internal/users"
	"guardsched/internal/web"
)

const version = "0.1.0"

// envPassword holds the password for -login-email so it never shows up in
// the process list.
const envPassword = "GUARDSCHED_PASSWORD"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	importSrc  string
	exportPath string
	loginEmail string
	logout     bool
}

type app struct {
	conf   *config.Config
	sess   *session.Session
	client *api.Client
	events *events.Store
	users  *users.Store
	reg    *prometheus.Registry
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("guardsched starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"api", conf.API.BaseURL,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"session_db", conf.Session.DBPath,
		"once", flags.once,
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

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("guardsched failed", err)
		os.Exit(1)
	}
	appLog.Info("guardsched exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
	}

	store, err := session.OpenBolt(conf.Session.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := newApp(conf, loc, store)
	if err != nil {
		return err
	}

	if flags.logout {
		return a.sess.Logout()
	}
	if flags.loginEmail != "" {
		pw := os.Getenv(envPassword)
		if pw == "" {
			return errors.New(envPassword + " must be set for -login-email")
		}
		if _, err := a.sess.Login(ctx, a.client, flags.loginEmail, pw); err != nil {
			return err
		}
	}

	if a.sess.LoggedIn() {
		if err := a.sess.CheckCredentials(ctx, a.client); err != nil {
			appLog.Warn("credential check failed; keeping stored session", "error", err.Error())
		}
	}
	if !a.sess.LoggedIn() {
		appLog.Warn("not logged in; use -login-email to sign in")
	} else if err := a.initialLoad(ctx); err != nil {
		appLog.Error("initial load incomplete", err)
	}

	if flags.importSrc != "" {
		if err := a.importCalendar(ctx, flags.importSrc); err != nil {
			return err
		}
	}
	if flags.exportPath != "" {
		if err := a.exportCalendar(flags.exportPath); err != nil {
			return err
		}
	}
	if flags.once {
		return nil
	}

	sch := scheduler.New(ctx, loc)
	jobs := []scheduler.Job{
		scheduler.CheckCredentials(conf.Schedule.CredentialCheck, func(ctx context.Context) error {
			return a.sess.CheckCredentials(ctx, a.client)
		}),
		scheduler.Refresh(conf.Schedule.Refresh, a.whenLoggedIn(a.users), a.whenLoggedIn(a.events)),
	}
	for _, j := range jobs {
		if err := sch.Add(j); err != nil {
			return err
		}
	}
	sch.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sch.Stop(stopCtx)
	}()

	srv := web.NewServer(web.Deps{
		Config:   conf,
		Session:  a.sess,
		Events:   a.events,
		Users:    a.users,
		Auth:     a.client,
		Lister:   a.client,
		Gatherer: a.reg,
	})
	return srv.Run(ctx, 5*time.Second)
}

func newApp(conf *config.Config, loc *time.Location, storage session.Storage) (*app, error) {
	sess, err := session.Open(storage)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := api.New(conf.API.BaseURL, api.Options{
		Timeout:   conf.API.Timeout,
		UserAgent: conf.API.UserAgent,
		Location:  loc,
		Metrics:   m,
	})

	return &app{
		conf:   conf,
		sess:   sess,
		client: client,
		events: events.New(client, events.Options{
			Location:    loc,
			SundayFirst: conf.SundayFirst(),
			Sync:        sess,
			Metrics:     m,
		}),
		users: users.New(client, sess, m),
		reg:   reg,
	}, nil
}

// initialLoad fetches users and the current week in parallel. Each load
// succeeds or fails on its own.
func (a *app) initialLoad(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.users.LoadUsers(ctx) })
	g.Go(func() error {
		_, err := a.events.GoToCurrentWeek(ctx)
		return err
	})
	return g.Wait()
}

func (a *app) whenLoggedIn(r scheduler.Refresher) scheduler.Refresher {
	return scheduler.RefreshFunc(func(ctx context.Context) error {
		if !a.sess.LoggedIn() {
			return nil
		}
		return r.Refresh(ctx)
	})
}

// importCalendar creates every event of an ICS file or feed. Recurring
// series are expanded from now over the configured horizon.
func (a *app) importCalendar(ctx context.Context, src string) error {
	if !a.sess.LoggedIn() {
		return errors.New("import requires a logged-in session")
	}
	body, err := ics.ReadSource(ctx, src)
	if err != nil {
		return err
	}
	now := time.Now().In(a.events.Location())
	inputs, err := ics.Import(body, ics.ImportOptions{
		Location:       a.events.Location(),
		RangeStart:     now,
		RangeEnd:       now.AddDate(0, 0, a.conf.ICS.HorizonDays),
		MaxOccurrences: a.conf.ICS.MaxOccurrences,
	})
	if err != nil {
		return err
	}
	n, err := a.events.AddAll(ctx, inputs)
	appLog.Info("ics import finished", "created", n, "total", len(inputs))
	return err
}

// exportCalendar writes the loaded week as ICS to path, or stdout for "-".
func (a *app) exportCalendar(path string) error {
	body := ics.Export(a.events.Events(), ics.ExportOptions{
		Location: a.events.Location(),
		Domain:   a.conf.ICS.Domain,
	})
	if path == "-" {
		_, err := os.Stdout.WriteString(body)
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/guardsched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file with GUARDSCHED_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load users and the current week once and exit")
	flag.StringVar(&cfg.importSrc, "import", "", "ICS file path or URL whose events are created")
	flag.StringVar(&cfg.exportPath, "export", "", "Write the current week as ICS to this path (- for stdout)")
	flag.StringVar(&cfg.loginEmail, "login-email", "", "Log in as this email (password from "+envPassword+")")
	flag.BoolVar(&cfg.logout, "logout", false, "Clear the stored session and exit")

	flag.Parse()

	return cfg
}
