package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts",
}

var usersActivateCmd = &cobra.Command{
	Use:   "activate <email>",
	Short: "Allow an account to sign in again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserStatus(cmd, args[0], models.UserStatusActive)
	},
}

var usersDeactivateCmd = &cobra.Command{
	Use:   "deactivate <email>",
	Short: "Block an account from signing in",
	Long: `Deactivated accounts cannot sign in, and requests on their existing sessions are refused.
Open streams are ended through the change feed named by CHANGE_FEED.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserStatus(cmd, args[0], models.UserStatusInactive)
	},
}

func init() {
	usersCmd.AddCommand(usersActivateCmd, usersDeactivateCmd)
	rootCmd.AddCommand(usersCmd)
}

// userStatusStore is what the users commands need. *db.DB implements it.
type userStatusStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserStatus(ctx context.Context, userID int64, status models.UserStatus) error
}

// changePublisher announces the status change to running servers.
type changePublisher interface {
	Publish(ctx context.Context, c changefeed.Change) error
}

func setUserStatus(cmd *cobra.Command, email string, status models.UserStatus) error {
	config, err := loadConfig(os.Getenv)
	if err != nil {
		return err
	}
	database, err := connectFromEnv()
	if err != nil {
		return err
	}
	defer database.Close()

	var publisher changePublisher
	if config.ChangeFeed == changefeed.KindLocal {
		logger.Warn("CHANGE_FEED is local; running servers are not notified and open streams stay up", "email", email)
	} else {
		feed, err := changefeed.New(cmd.Context(), changefeed.Config{
			Kind:        config.ChangeFeed,
			RedisURL:    config.RedisURL,
			DatabaseURL: config.DatabaseURL,
			DB:          database.Conn(),
		})
		if err != nil {
			return fmt.Errorf("failed to create change feed: %w", err)
		}
		defer feed.Close()
		publisher = feed
	}

	user, err := updateUserStatus(cmd.Context(), database, publisher, email, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d) is now %s\n", user.Email, user.ID, status)
	return nil
}

// updateUserStatus stores the new status and, when publisher is set,
// publishes an auth change so open streams re-check their session.
func updateUserStatus(ctx context.Context, store userStatusStore, publisher changePublisher, email string, status models.UserStatus) (*models.User, error) {
	email = validation.NormalizeEmail(email)
	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", email, err)
	}
	if err := store.UpdateUserStatus(ctx, user.ID, status); err != nil {
		return nil, err
	}
	user.Status = status
	if publisher != nil {
		change := changefeed.Change{UserID: user.ID, Collection: changefeed.CollectionAuth}
		if err := publisher.Publish(ctx, change); err != nil {
			return user, fmt.Errorf("status updated but failed to notify servers: %w", err)
		}
	}
	return user, nil
}
