// Command ttsd is the host-wide TTS coordinator daemon: it loads a
// Configuration, starts the Manager and its Speaker, serves the RPC
// endpoint every ttsclient flavor dials into, and watches the config
// file for live updates.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsaudio/httpsink"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsconfig"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsmanager"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsrpc"
)

var (
	configPath string
	listenAddr string
	socketPath string
	sampleRate int
	policyFlag string
	pretty     bool
)

func main() {
	root := &cobra.Command{
		Use:   "ttsd",
		Short: "Host-wide text-to-speech coordinator daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "/etc/tts/ttsconfig.ini", "configuration file path")
	root.Flags().StringVar(&listenAddr, "listen", ":10600", "address the RPC endpoint listens on")
	root.Flags().StringVar(&socketPath, "socket", "/tmp/tts_manager_connection", "Unix socket for the legacy connection watcher")
	root.Flags().IntVar(&sampleRate, "sample-rate", 16000, "playback sample rate in Hz")
	root.Flags().StringVar(&policyFlag, "policy", "", "override the config file's resource allocation policy (RESERVATION|OPEN)")
	root.Flags().BoolVar(&pretty, "pretty", false, "human-readable console logging instead of JSON")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	logger := ttslog.New(os.Stderr, pretty)

	cfg, err := ttsconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	policy := ttsmanager.PolicyOpen
	policyName := cfg.Policy()
	if policyFlag != "" {
		policyName = policyFlag
	}
	if policyName == "RESERVATION" {
		policy = ttsmanager.PolicyReservation
	}

	pipelineFactory := httpsink.NewFactory(sampleRate)

	mgr := ttsmanager.New(cfg, policy, pipelineFactory, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	if err := ttsconfig.Watch(configPath, logger, func(updated *ttsconfig.Configuration) {
		logger.Info("configuration file changed, reloading")
		mgr.SetConfiguration(updated)
	}, stop); err != nil {
		logger.Warn("config watch not started", "error", err.Error())
	}
	defer close(stop)

	if err := mgr.ListenForConnections(ctx, socketPath); err != nil {
		logger.Warn("connection watcher not started", "error", err.Error())
	}

	disp := ttsrpc.New(0, logger)
	defer disp.Close()

	server := ttsrpc.NewServer(mgr, disp, logger)
	httpServer := &http.Server{Addr: listenAddr, Handler: server}

	go func() {
		logger.Info("rpc endpoint listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc endpoint stopped", "error", err.Error())
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return mgr.Close()
}
