package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/sync/errgroup"

	"github.com/mgoltzsche/voice-chat/internal/audio"
	"github.com/mgoltzsche/voice-chat/internal/channel"
	"github.com/mgoltzsche/voice-chat/internal/cli"
	"github.com/mgoltzsche/voice-chat/internal/model"
	"github.com/mgoltzsche/voice-chat/internal/observe"
	"github.com/mgoltzsche/voice-chat/internal/playback"
	"github.com/mgoltzsche/voice-chat/internal/protocol"
	"github.com/mgoltzsche/voice-chat/internal/pubsub"
	"github.com/mgoltzsche/voice-chat/internal/router"
	"github.com/mgoltzsche/voice-chat/internal/session"
	"github.com/mgoltzsche/voice-chat/pkg/config"
)

const (
	greeting = "Mic check… Yo buddy, drop your words 🎤"
	usage    = "Press Enter to start or stop recording, q to quit."
)

var version = "dev"

func main() {
	configFile := defaultConfigFile()
	cfg, loadErr := config.FromFile(configFile)
	configFlag := &config.Flag{File: configFile, Config: &cfg}
	listDevices := false

	flag.Var(configFlag, "config", "Path to the configuration file")
	flag.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "URL pointing to the voice chat backend")
	flag.StringVar(&cfg.Persona, "persona", cfg.Persona, "persona the assistant should take on")
	flag.Var(&config.KeysFlag{Config: &cfg}, "key", "provider API key as PROVIDER=KEY, can be specified multiple times")
	flag.StringVar(&cfg.InputDevice, "input-device", cfg.InputDevice, "name or ID or the audio input device")
	flag.StringVar(&cfg.OutputDevice, "output-device", cfg.OutputDevice, "name or ID or the audio output device")
	flag.BoolVar(&cfg.FlushOnStop, "flush-on-stop", cfg.FlushOnStop, "drop queued speech when recording stops")
	flag.Var(&cfg.DecodeTimeout, "decode-timeout", "max time to wait for a speech chunk to be decoded")
	flag.IntVar(&cfg.Prefetch, "prefetch", cfg.Prefetch, "number of speech chunks decoded ahead of playback")
	flag.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "address to serve Prometheus metrics on, disabled when empty")
	flag.BoolVar(&listDevices, "list-devices", listDevices, "list the available audio devices and exit")

	err := cli.ParseFlagsWithEnvVars(flag.CommandLine, "VOICECHAT_", os.Args[1:])
	if err != nil {
		slog.Error(err.Error())
		os.Exit(2)
	}

	if !configFlag.IsSet && loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		slog.Error(loadErr.Error())
		os.Exit(1)
	}

	err = cfg.Validate()
	if err != nil {
		slog.Error(fmt.Sprintf("invalid configuration: %s", err))
		os.Exit(1)
	}

	err = portaudio.Initialize()
	if err != nil {
		slog.Error(fmt.Sprintf("initialize portaudio: %s", err))
		os.Exit(1)
	}
	defer portaudio.Terminate()

	if listDevices {
		audio.PrintAvailableDevices(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, os.Stdin, os.Stdout)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func defaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "voice-chat.yaml"
	}
	return filepath.Join(dir, "voice-chat", "config.yaml")
}

func run(ctx context.Context, cfg config.Configuration, in io.Reader, out io.Writer) error {
	if cfg.MetricsListen != "" {
		shutdown, err := observe.InitProvider("voice-chat", version)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	metrics := observe.DefaultMetrics()

	url, err := channel.WebsocketURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	messages := pubsub.New[model.ChatMessage]()
	defer messages.Stop()
	statuses := pubsub.New[model.Status]()
	defer statuses.Stop()

	output := &audio.Output{Device: cfg.OutputDevice}
	err = output.Init()
	if err != nil {
		return err
	}
	defer output.Close()

	engine := playback.NewEngine(audio.WAVDecoder{}, output, playback.Options{
		DecodeTimeout: time.Duration(cfg.DecodeTimeout),
		Prefetch:      cfg.Prefetch,
		Metrics:       metrics,
	})

	manager := &channel.Manager{
		URL:    url,
		Dialer: &channel.WebsocketDialer{},
		Handler: &router.Router{
			Messages: messages,
			Audio:    engine,
			Metrics:  metrics,
		},
		Metrics: metrics,
	}

	sess := &session.Session{
		Input: &audio.Input{Device: cfg.InputDevice},
		Encoder: &audio.Encoder{
			SampleRate: cfg.SampleRate,
			FrameSize:  cfg.FrameSize,
		},
		Channel:     manager,
		Playback:    engine,
		Handshake:   protocol.NewConfig(cfg.HandshakeKeys(), cfg.Persona),
		FlushOnStop: cfg.FlushOnStop,
		Status:      statuses,
	}
	manager.OnClose = sess.ConnectionClosed

	g, ctx := errgroup.WithContext(ctx)

	printEvents(ctx, out, messages, statuses)

	messages.Publish(model.ChatMessage{Role: model.RoleAssistant, Text: greeting, Time: time.Now()})
	statuses.Publish(model.Status{State: model.Idle, Text: session.StatusReady})
	fmt.Fprintln(out, usage)

	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		err := controlLoop(ctx, sess, in, out)
		if sess.State() == model.Recording {
			if e := sess.Stop(); e != nil {
				slog.Warn("failed to stop recording", "err", e)
			}
		}
		return err
	})
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			return observe.ServeMetrics(ctx, cfg.MetricsListen)
		})
	}

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		slog.Info("terminating")
		return nil
	}

	return err
}

var errQuit = errors.New("quit")

// controlLoop toggles recording on every empty input line.
func controlLoop(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	lines := make(chan string)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}

			switch strings.TrimSpace(line) {
			case "":
				err := sess.Toggle(ctx)
				if err != nil {
					slog.Warn(err.Error())
				}
			case "q", "quit", "exit":
				return errQuit
			default:
				fmt.Fprintln(out, usage)
			}
		}
	}
}

func printEvents(ctx context.Context, out io.Writer, messages pubsub.Subscriber[model.ChatMessage], statuses pubsub.Subscriber[model.Status]) {
	msgSub := messages.Subscribe(ctx, "chat-log")
	statusSub := statuses.Subscribe(ctx, "status-line")

	go func() {
		for msg := range msgSub.ResultChan() {
			fmt.Fprintf(out, "%s [%s] %s\n", msg.Time.Format(time.TimeOnly), msg.Role, msg.Text)
		}
	}()

	go func() {
		for s := range statusSub.ResultChan() {
			if s.Err != nil {
				fmt.Fprintf(out, "-- %s: %s\n", s.Text, s.Err)
				continue
			}
			fmt.Fprintf(out, "-- %s\n", s.Text)
		}
	}()
}
