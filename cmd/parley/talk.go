package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/device"
	"github.com/antoniostano/parley/internal/policy"
	"github.com/antoniostano/parley/internal/voice"
)

var talkRole string

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Hold a conversation on the local microphone and speaker",
	Long: `Starts a conversation on the local audio devices and prints the
transcript as it happens. Type a command and press enter while talking:

  i  interrupt the assistant
  s  stop speaking
  l  stop listening
  r  start listening again
  q  end the conversation

Local audio needs a build with -tags voice.`,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().StringVar(&talkRole, "role", "user", "caller role: user, admin or demo")
	rootCmd.AddCommand(talkCmd)
}

func runTalk(cmd *cobra.Command, _ []string) error {
	if !device.Available() {
		return errors.New("this binary has no local audio support; rebuild with -tags voice")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	logger := rt.Logger
	defer func() {
		if err := rt.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
		_ = logger.Sync()
	}()

	mic := device.NewMicrophone(rt.Config.InputDevice)
	speaker := device.NewSpeaker(rt.Config.OutputDevice)
	defer speaker.Close()
	engine := rt.NewEngine(mic, speaker)
	defer engine.Close()

	events, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	role := policy.ParseRole(talkRole)
	if _, err := engine.Begin(rt.Config.Conversation, policy.QuotaExempt(role)); err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	commands := make(chan string)
	go readCommands(cmd.InOrStdin(), commands)

	for {
		select {
		case <-ctx.Done():
			return endTalk(out, engine)
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if err := talkCommand(ctx, engine, line); err != nil {
				if errors.Is(err, errQuit) {
					return endTalk(out, engine)
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, ev)
			if ev.Type == voice.EventEnded {
				return nil
			}
		}
	}
}

var errQuit = errors.New("quit")

func talkCommand(ctx context.Context, engine *voice.Engine, line string) error {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return nil
	case "i":
		return engine.Interrupt(ctx)
	case "s":
		engine.StopSpeaking()
	case "l":
		engine.StopListening()
	case "r":
		return engine.Start(ctx)
	case "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", line)
	}
	return nil
}

func readCommands(in io.Reader, commands chan<- string) {
	defer close(commands)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		commands <- sc.Text()
	}
}

func endTalk(out io.Writer, engine *voice.Engine) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conv, err := engine.End(ctx)
	if err != nil && !errors.Is(err, voice.ErrNoConversation) {
		return err
	}
	fmt.Fprintf(out, "conversation %s ended: %d messages, %d interruptions\n",
		conv.ID, len(conv.Messages), conv.Stats.InterruptionCount)
	return nil
}

func printEvent(out io.Writer, ev voice.Event) {
	switch ev.Type {
	case voice.EventStateChanged:
		fmt.Fprintf(out, "[%s]\n", ev.State)
	case voice.EventMessage:
		if ev.Message != nil {
			fmt.Fprintf(out, "%s: %s\n", ev.Message.Role, ev.Message.Text)
		}
	case voice.EventNotice:
		fmt.Fprintf(out, "- %s %s\n", ev.Notice, ev.Detail)
	case voice.EventQuotaWarning:
		if ev.Warning != nil {
			fmt.Fprintf(out, "- %s\n", ev.Warning.Message)
		}
	case voice.EventError:
		fmt.Fprintf(out, "! %s\n", ev.Detail)
	}
}
