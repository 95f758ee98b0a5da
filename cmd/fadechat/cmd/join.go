package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/session"
)

var joinCmd = &cobra.Command{
	Use:   "join <code>",
	Short: "Join an existing room by its code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := session.New(store, logger, session.Config{
			Countdown:       cfg.Session.Countdown,
			SendMinInterval: cfg.Session.SendMinInterval,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		room, err := s.Join(ctx, args[0])
		switch {
		case errors.Is(err, domain.ErrInvalidCodeFormat):
			return fmt.Errorf("%q is not a valid room code", args[0])
		case errors.Is(err, domain.ErrRoomNotFound):
			return fmt.Errorf("room %q does not exist or has already expired", args[0])
		case errors.Is(err, domain.ErrRoomFull):
			return fmt.Errorf("room %q is full", args[0])
		case err != nil:
			return err
		}

		fmt.Printf("Joined room %s.\n", room.Code)
		return runChat(s)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
