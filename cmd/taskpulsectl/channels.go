package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}

func bindCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "bind CHAT_ID OWNER",
		Short: "Link a chat to an owner, replacing any previous owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			if args[1] == "" {
				return fmt.Errorf("owner must not be empty")
			}
			store, err := rt.bindings()
			if err != nil {
				return err
			}
			if err := store.Bind(cmd.Context(), chatID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chat %d linked to %s\n", chatID, args[1])
			return nil
		},
	}
}

func unbindCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "unbind CHAT_ID",
		Short: "Remove a chat binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			store, err := rt.bindings()
			if err != nil {
				return err
			}
			if err := store.Unbind(cmd.Context(), chatID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chat %d unlinked\n", chatID)
			return nil
		},
	}
}

func channelsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "channels OWNER",
		Short: "List the chats bound to an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.bindings()
			if err != nil {
				return err
			}
			bindings, err := store.ListByOwner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(bindings) == 0 {
				fmt.Fprintf(out, "no chats linked to %s\n", args[0])
				return nil
			}
			for _, b := range bindings {
				fmt.Fprintf(out, "%d\t%s\n", b.ChatID, b.LinkedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
