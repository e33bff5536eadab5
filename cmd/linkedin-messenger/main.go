package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/linkedin-messenger/internal/api"
	"github.com/yourusername/linkedin-messenger/internal/auth"
	"github.com/yourusername/linkedin-messenger/internal/bot"
	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/config"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
	"github.com/yourusername/linkedin-messenger/internal/session"
	"github.com/yourusername/linkedin-messenger/internal/stealth"
	"github.com/yourusername/linkedin-messenger/internal/storage"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "linkedin-messenger",
		Short:         "LinkedIn direct-message bot",
		Long:          "Sends and reads LinkedIn direct messages by driving a headless Chromium, over HTTP or from the command line.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $CONFIG_PATH or ./config/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(checkCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	store   *session.Store
	driver  *browser.RodDriver
	history *storage.DB
	bot     *bot.Bot
	// hours is nil unless sends are restricted to business hours.
	hours *stealth.BusinessHours
}

// setup loads the configuration, starts logging and wires the bot.
func setup(headless bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.ToFile, cfg.Logging.Dir); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	history, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := history.CleanupOldActions(); err != nil {
		logger.Warn("Failed to clean up old actions", "error", err)
	}

	a := &app{
		cfg:     cfg,
		store:   session.NewStore(cfg.Session.Path),
		history: history,
		driver: browser.NewRodDriver(browser.Options{
			Headless:    headless,
			BinPath:     cfg.Browser.BinPath,
			Fingerprint: fingerprint(cfg.Browser),
		}),
	}

	opts := messaging.OptionsFromConfig(cfg)
	sender := messaging.NewSender(a.store, a.driver, nil, opts)
	reader := messaging.NewReader(a.store, a.driver, nil, opts)
	a.bot = bot.New(sender, reader, history, cfg.Browser.MaxConcurrentRuns, cfg.Messaging.DailyLimit)

	if cfg.Messaging.BusinessHoursOnly {
		a.hours = &stealth.BusinessHours{
			Start:    cfg.Messaging.BusinessHours.Start,
			End:      cfg.Messaging.BusinessHours.End,
			WorkDays: cfg.Messaging.WorkDays,
		}
	}
	a.bot.SetPacing(bot.Pacing{
		HourlyLimit: cfg.Messaging.HourlyLimit,
		Cooldown:    cfg.Messaging.Cooldown,
		Breaks:      cfg.Messaging.Breaks,
		Hours:       a.hours,
	})

	return a, nil
}

func (a *app) close() {
	if err := a.history.Close(); err != nil {
		logger.Warn("Failed to close history database", "error", err)
	}
	logger.Sync()
}

func fingerprint(c config.BrowserConfig) browser.Fingerprint {
	fp := browser.DefaultFingerprint()
	if c.UserAgent != "" {
		fp.UserAgent = c.UserAgent
	}
	if c.Locale != "" && c.Locale != fp.Locale {
		fp.Locale = c.Locale
		lang := strings.Split(c.Locale, "-")[0]
		fp.AcceptLanguage = fmt.Sprintf("%s,%s;q=0.9,en-US;q=0.8,en;q=0.7", c.Locale, lang)
	}
	if c.Timezone != "" {
		fp.Timezone = c.Timezone
	}
	if c.ViewportWidth > 0 && c.ViewportHeight > 0 {
		fp.ViewportWidth = c.ViewportWidth
		fp.ViewportHeight = c.ViewportHeight
	}
	return fp
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loginCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a visible browser to log in by hand and save the session",
		Long: "Opens a visible Chromium on the LinkedIn login page. Log in within the wait window;\n" +
			"as soon as the feed appears the session is written to the configured session path.\n" +
			"Upload that file to the server with POST /session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()

			if wait <= 0 {
				wait = a.cfg.GetLoginWait()
			}
			fmt.Fprintf(os.Stderr, "Log in to LinkedIn in the browser window. Do not close it yourself.\n")

			_, err = auth.Login(cmd.Context(), a.driver, a.store, auth.Options{
				BaseURL:  a.cfg.Messaging.BaseURL,
				Wait:     wait,
				LoggedIn: messaging.SelectorsFromConfig(a.cfg.Messaging.Selectors).LoggedIn,
				Countdown: func(left time.Duration) {
					fmt.Fprintf(os.Stderr, "\r Waiting... %ds left   ", int(left.Seconds()))
				},
			})
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Session saved to %s\n", a.store.Path())
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "how long to wait for the login (default: session.login_wait_seconds)")
	return cmd
}

func sendCmd() *cobra.Command {
	var profileURL, message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.bot.Send(cmd.Context(), "", profileURL, message)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("send failed: %s", res.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileURL, "profile", "", "profile URL of the recipient")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	cmd.MarkFlagRequired("profile")
	cmd.MarkFlagRequired("message")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List unread conversations and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()

			res, _ := a.bot.Check(cmd.Context())
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("check failed: %s", res.ErrorKind)
			}
			return nil
		},
	}
}
