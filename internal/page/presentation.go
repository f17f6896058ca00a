package page

import (
	"net/url"
	"path"
	"strings"
)

const (
	accountHandlePrefix = "@"
	accountEllipsis     = "…"
	accountVisibleHead  = 6
	accountVisibleTail  = 4
	unnamedProfileText  = "Unnamed"
	timestampLayout     = "2006-01-02 15:04 UTC"
)

// shortAccount abbreviates a hex account for display, keeping the prefix and
// the last few characters.
func shortAccount(account string) string {
	trimmedAccount := strings.TrimSpace(account)
	if len(trimmedAccount) <= accountVisibleHead+accountVisibleTail {
		return trimmedAccount
	}
	return trimmedAccount[:accountVisibleHead] + accountEllipsis + trimmedAccount[len(trimmedAccount)-accountVisibleTail:]
}

// externalHandle derives the "@handle" label shown for the footer link.
func externalHandle(link string) string {
	parsedLink, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return link
	}
	handle := path.Base(strings.TrimSuffix(parsedLink.Path, "/"))
	if handle == "" || handle == "." || handle == "/" {
		return parsedLink.Host
	}
	return accountHandlePrefix + handle
}

// profileLabel falls back to a placeholder for profiles posted without a name.
func profileLabel(name string) string {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return unnamedProfileText
	}
	return trimmedName
}
