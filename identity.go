package singleinstance

import (
	"os"
	"os/user"
	"strings"
)

// ChannelSuffix is appended to the application identifier to name the
// notification channel. Instances built from different versions must agree
// on it, so it never changes.
const ChannelSuffix = ":SingleInstanceIPCChannel"

// ApplicationIdentifier returns the key used for both the instance lock and
// the notification channel: the unique name followed directly by the user
// name. Different users never contend for the same identifier.
func ApplicationIdentifier(uniqueName, userName string) string {
	return uniqueName + userName
}

// ChannelName returns the notification channel name for identifier.
func ChannelName(identifier string) string {
	return identifier + ChannelSuffix
}

// CurrentUser returns the login name of the user running this process,
// without any Windows domain prefix. It falls back to $USER or $USERNAME.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndexByte(name, '\\'); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}
