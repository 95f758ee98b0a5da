package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fadechat/fadechat/internal/session"
)

// runChat pumps events to the terminal and lines from stdin into the
// session until the room expires or the user leaves.
func runChat(s *session.Session) error {
	done := make(chan struct{})
	go printEvents(s, done)

	fmt.Println("Type a message and press enter. /leave exits, /close ends the room for everyone.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.Leave(ctx)
				cancel()
				return err
			}

			switch strings.TrimSpace(line) {
			case "":
			case "/leave":
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.Leave(ctx)
				cancel()
				fmt.Println("Left the room.")
				return err
			case "/close":
				s.CloseNow()
			default:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.Send(ctx, line); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
				cancel()
			}
		}
	}
}

func printEvents(s *session.Session, done chan<- struct{}) {
	for ev := range s.Events() {
		switch ev.Type {
		case session.MessageReceivedEvent:
			who := "them"
			if ev.Message.SenderID == s.ParticipantID() {
				who = "you"
			}
			fmt.Printf("[%s] %s: %s\n", ev.At.Format("15:04:05"), who, ev.Message.Text)
		case session.SystemEvent:
			fmt.Printf("-- %s\n", ev.Text)
		case session.RoomExpiringEvent:
			fmt.Printf("-- Room closing in %d...\n", ev.SecondsLeft)
		case session.RoomExpiredEvent:
			fmt.Println("-- Room expired. Goodbye.")
			close(done)
			return
		case session.RateLimitedEvent:
			fmt.Fprintln(os.Stderr, "--", ev.Text)
		case session.MessageFailedEvent:
			fmt.Fprintln(os.Stderr, "-- message not delivered:", ev.Message.Text)
		case session.ConnectivityEvent:
			if ev.Connected {
				fmt.Println("-- Reconnected.")
			} else {
				fmt.Println("-- Connection lost.")
			}
		}
	}
	close(done)
}
