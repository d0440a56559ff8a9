// Command ttsctl is a small command-line harness over the object-RPC
// client flavor, useful for exercising a running ttsd by hand: toggle
// the global switch, push one utterance through a throwaway session,
// inspect voices and the live configuration.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdkcentral/tts-coordinator/pkg/ttsclient"
	"github.com/rdkcentral/tts-coordinator/pkg/ttsclient/objectrpc"
	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

var (
	addr    string
	appID   uint32
	appName string
	pretty  bool
)

func main() {
	root := &cobra.Command{
		Use:   "ttsctl",
		Short: "Command-line harness for the TTS coordinator's object-RPC endpoint",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "ws://127.0.0.1:10600/", "ttsd RPC endpoint")
	root.PersistentFlags().Uint32Var(&appID, "app-id", 1001, "application id to act as")
	root.PersistentFlags().StringVar(&appName, "app-name", "ttsctl", "application name to register")
	root.PersistentFlags().BoolVar(&pretty, "pretty", true, "human-readable console logging")

	root.AddCommand(enableCmd(true), enableCmd(false), speakCmd(), voicesCmd(), configCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func dial() *objectrpc.Client {
	return objectrpc.Dial(addr, noOpConnCallback{}, ttslog.New(os.Stderr, pretty))
}

type noOpConnCallback struct{}

func (noOpConnCallback) OnServerConnected() {}
func (noOpConnCallback) OnServerClosed()    { fmt.Fprintln(os.Stderr, "server connection lost") }

func enableCmd(enable bool) *cobra.Command {
	use := "enable"
	short := "Turn TTS on globally"
	if !enable {
		use = "disable"
		short = "Turn TTS off globally"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dial()
			defer c.Close()
			waitConnected(c)
			return c.EnableTTS(enable)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print whether TTS is currently enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dial()
			defer c.Close()
			waitConnected(c)
			enabled, err := c.IsTTSEnabled(false)
			if err != nil {
				return err
			}
			fmt.Printf("enabled: %v\n", enabled)
			return nil
		},
	}
}

func voicesCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List voices registered for a language (\"*\" for all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dial()
			defer c.Close()
			waitConnected(c)
			voices, err := c.ListVoices(language)
			if err != nil {
				return err
			}
			for _, v := range voices {
				fmt.Println(v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "*", "language to list voices for")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the coordinator's current default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dial()
			defer c.Close()
			waitConnected(c)
			fields, err := c.GetConfiguration()
			if err != nil {
				return err
			}
			for k, v := range fields {
				fmt.Printf("%s=%s\n", k, v)
			}
			return nil
		},
	}
}

func speakCmd() *cobra.Command {
	var text string
	var secure bool
	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Create a throwaway session and speak one utterance through it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text is required")
			}
			c := dial()
			defer c.Close()
			waitConnected(c)

			cb := &printingCallback{done: make(chan struct{})}
			sessionID, err := c.CreateSession(appID, appName, cb)
			if err != nil {
				return fmt.Errorf("createSession: %w", err)
			}
			defer c.DestroySession(sessionID)

			if err := c.Speak(sessionID, 1, text, secure); err != nil {
				return fmt.Errorf("speak: %w", err)
			}

			select {
			case <-cb.done:
			case <-time.After(30 * time.Second):
				fmt.Fprintln(os.Stderr, "timed out waiting for spoke event")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to synthesize")
	cmd.Flags().BoolVar(&secure, "secure", false, "use the secure endpoint")
	return cmd
}

// printingCallback prints every session-scope event except willSpeak
// to stdout and signals done once the utterance finishes (spoke) or
// errors out.
type printingCallback struct {
	done chan struct{}
}

func (p *printingCallback) Started(id uint64, text string) { fmt.Printf("started %d: %s\n", id, text) }
func (p *printingCallback) Spoke(id uint64, text string) {
	fmt.Printf("spoke %d\n", id)
	close(p.done)
}
func (p *printingCallback) ResourceAcquired()       { fmt.Println("resource acquired") }
func (p *printingCallback) ResourceReleased()       { fmt.Println("resource released") }
func (p *printingCallback) WillSpeak(uint64, string) {}
func (p *printingCallback) Paused(id uint64)        { fmt.Printf("paused %d\n", id) }
func (p *printingCallback) Resumed(id uint64)       { fmt.Printf("resumed %d\n", id) }
func (p *printingCallback) Cancelled(ids string)    { fmt.Printf("cancelled %s\n", ids) }
func (p *printingCallback) Interrupted(id uint64)   { fmt.Printf("interrupted %d\n", id) }
func (p *printingCallback) NetworkError(id uint64) {
	fmt.Printf("network error %d\n", id)
	close(p.done)
}
func (p *printingCallback) PlaybackError(id uint64) {
	fmt.Printf("playback error %d\n", id)
	close(p.done)
}

// waitConnected gives the reconnect supervisor a brief window to
// complete its first dial before issuing a call, so a one-shot CLI
// invocation against an already-running ttsd doesn't race the dial.
func waitConnected(c interface{ IsTTSEnabled(bool) (bool, error) }) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, err := c.IsTTSEnabled(false); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

var _ ttsclient.ConnectionCallback = noOpConnCallback{}
