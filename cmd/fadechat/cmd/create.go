package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/session"
)

var (
	maxMembers int
	graceSecs  int
	noWait     bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new room and wait for someone to join",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Config file values apply unless the flag was given explicitly.
		if !cmd.Flags().Changed("max-members") {
			maxMembers = cfg.Session.MaxMembers
		}
		if !cmd.Flags().Changed("grace") {
			graceSecs = int(cfg.Session.Grace / time.Second)
		}
		if !cmd.Flags().Changed("no-wait") {
			noWait = !cfg.Session.WaitForRejoin
		}

		settings := domain.RoomSettings{
			MaxMembers:         maxMembers,
			ExpireGraceSeconds: graceSecs,
			WaitForRejoin:      !noWait,
		}
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid room settings: %w", err)
		}

		s := session.New(store, logger, session.Config{
			Settings:        settings,
			Countdown:       cfg.Session.Countdown,
			SendMinInterval: cfg.Session.SendMinInterval,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		room, err := s.Create(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Room %s created.\n", room.Code)
		fmt.Printf("Share this link: %s\n", s.ShareLink(origin))
		fmt.Println("Waiting for someone to join...")

		return runChat(s)
	},
}

func init() {
	defaults := domain.DefaultSettings()
	createCmd.Flags().IntVar(&maxMembers, "max-members", defaults.MaxMembers, "maximum participants, including you")
	createCmd.Flags().IntVar(&graceSecs, "grace", defaults.ExpireGraceSeconds, "seconds to wait for a rejoin before the countdown starts")
	createCmd.Flags().BoolVar(&noWait, "no-wait", false, "start the countdown immediately when a participant drops")
	rootCmd.AddCommand(createCmd)
}
