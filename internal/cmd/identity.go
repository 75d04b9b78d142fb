package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/singleinstance"
	appconfig "github.com/Iron-Ham/singleinstance/internal/config"
	"github.com/Iron-Ham/singleinstance/internal/lock"
	"github.com/Iron-Ham/singleinstance/transport/mailbox"
	"github.com/Iron-Ham/singleinstance/transport/socket"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the identifier, lock file and channel for a name",
	Long: `Show how a unique name maps to the application identifier, the lock
file and the notification channel for the current user.`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

func init() {
	identityCmd.Flags().StringP("name", "n", defaultName, "unique application name")
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	name, _ := cmd.Flags().GetString("name")

	user := singleinstance.CurrentUser()
	id := singleinstance.ApplicationIdentifier(name, user)
	channel := singleinstance.ChannelName(id)

	dir := cfg.RuntimeDir
	if dir == "" {
		dir = lock.DefaultDir()
	}

	var endpoint string
	switch cfg.Transport {
	case appconfig.TransportMailbox:
		endpoint = mailbox.New(mailbox.Options{Dir: singleinstance.MailboxDir(dir)}).ChannelDir(channel)
	default:
		endpoint = socket.New(socket.Options{Dir: dir}).SocketPath(channel)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Instance identity"))
	fmt.Fprintln(out, label("name", name))
	fmt.Fprintln(out, label("user", user))
	fmt.Fprintln(out, label("identifier", id))
	fmt.Fprintln(out, label("channel", channel))
	fmt.Fprintln(out, label("lock", lock.Path(dir, id)))
	fmt.Fprintln(out, label("transport", cfg.Transport))
	fmt.Fprintln(out, label("endpoint", endpoint))
	return nil
}
