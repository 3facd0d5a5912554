package model

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// MutationType mirrors the kinds of DOM mutation records the watcher receives
type MutationType string

const (
	MutationChildList  MutationType = "childList"
	MutationAttributes MutationType = "attributes"
	MutationCharacter  MutationType = "characterData"
)

// MutationRecord is one observed DOM mutation. Only childList records with at
// least one added node survive the watcher's debounce window; everything else
// is discarded before reaching the link processor.
type MutationRecord struct {
	Type  MutationType
	Added []*html.Node
	// URL is the page URL at the time the mutation was observed, used for
	// the mutation-triggered navigation check.
	URL string
}

// HasAddedNodes reports whether this record should survive the debounce window
func (r *MutationRecord) HasAddedNodes() bool {
	return r.Type == MutationChildList && len(r.Added) > 0
}

// NavigationSource names the signal that detected a navigation. SPA hosts
// change the location without a reload, so no single signal is trusted alone.
type NavigationSource string

const (
	NavHistory  NavigationSource = "history"
	NavPopState NavigationSource = "popstate"
	NavMutation NavigationSource = "mutation"
	NavPoll     NavigationSource = "poll"
)

// NavigationEvent is a detected (or suspected) page URL change
type NavigationEvent struct {
	URL    string           `json:"url"`
	Source NavigationSource `json:"source"`
}

// RepoFromURL extracts the owner/name repository encoded as the first two
// path segments of a page URL, or "" when the path has no such prefix.
func RepoFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
