package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mgoltzsche/voice-chat/internal/cli"
	"github.com/mgoltzsche/voice-chat/internal/server"
	"github.com/mgoltzsche/voice-chat/internal/tlsutils"
)

func main() {
	opts := server.DefaultOptions()
	listenAddr := ":8000"
	tlsEnabled := false
	tlsCert := ""
	tlsKey := ""
	tlsHosts := ""

	flag.StringVar(&listenAddr, "listen", listenAddr, "Address the server should listen on")
	flag.Float64Var(&opts.MinVolume, "min-volume", opts.MinVolume, "min input volume (RMS) that counts as speech")
	flag.DurationVar(&opts.MinSilence, "min-silence", opts.MinSilence, "silence that terminates an utterance")
	flag.DurationVar(&opts.MaxUtterance, "max-utterance", opts.MaxUtterance, "max duration of an utterance")
	flag.DurationVar(&opts.ChunkDuration, "chunk-duration", opts.ChunkDuration, "duration of each echoed audio chunk")
	flag.Float64Var(&opts.AckFrequency, "ack-frequency", opts.AckFrequency, "frequency of the tone played before each echo, 0 disables it")
	flag.BoolVar(&tlsEnabled, "tls", tlsEnabled, "Serve securely via HTTPS/TLS")
	flag.StringVar(&tlsKey, "tls-key", tlsKey, "Path to the TLS key file")
	flag.StringVar(&tlsCert, "tls-cert", tlsCert, "Path to the TLS certificate file")
	flag.StringVar(&tlsHosts, "tls-hosts", tlsHosts, "comma-separated host names and IPs of the generated TLS certificate")

	err := cli.ParseFlagsWithEnvVars(flag.CommandLine, "VOICECHAT_SERVER_", os.Args[1:])
	if err != nil {
		slog.Error(err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runServer(ctx, opts, listenAddr, tlsEnabled, tlsCert, tlsKey, splitHosts(tlsHosts))
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func runServer(ctx context.Context, opts server.Options, listenAddr string, tlsEnabled bool, tlsCert, tlsKey string, tlsHosts []string) error {
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              listenAddr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.AddRoutes(mux, opts)

	go func() {
		<-ctx.Done()
		slog.Info("terminating")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var err error

	if tlsEnabled {
		if tlsCert == "" && tlsKey == "" {
			slog.Info("generating self-signed TLS certificate")

			var cleanup func()

			tlsCert, tlsKey, cleanup, err = tlsutils.GenerateSelfSignedTLSCertificate(tlsHosts...)
			if err != nil {
				return fmt.Errorf("generating tls certificate: %w", err)
			}

			defer cleanup()
		}

		slog.Info(fmt.Sprintf("listening on %s (TLS)", srv.Addr))

		err = srv.ListenAndServeTLS(tlsCert, tlsKey)
	} else {
		slog.Info(fmt.Sprintf("listening on %s", srv.Addr))

		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
