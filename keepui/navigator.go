package keepui

import (
	"net/url"

	"github.com/golang/glog"
)

// Frame abstracts the window the navigator drives: current location,
// history entries, and full (network) navigation.
type Frame interface {
	CurrentURL() *url.URL
	// push or replace a history entry, attaching the opaque state payload
	PushState(u *url.URL, state any)
	ReplaceState(u *url.URL, state any)
	Reload()
	// full browser navigation, leaving the app
	NavigateNetwork(u *url.URL)
}

// Anchor is an element-tree node. Href is empty for non-links, Parent is nil
// at the root. Keeping the ancestor walk here makes the policy testable
// without a real element tree.
type Anchor interface {
	Href() string
	Parent() Anchor
}

type ClickEvent struct {
	PrimaryButton bool
	// deepest element under the click, may be nil
	Target Anchor
}

type PopStateEvent struct {
	// opaque payload attached at push time. nil means initial load.
	State any
}

// RouteFunction is the app's routing decision: true when the destination is
// handled locally.
type RouteFunction func(u *url.URL) bool

// navigationState marks history entries written by the app, so the pop
// handler can tell them apart from the initial load.
type navigationState struct{}

var AppNavigationState = &navigationState{}

// Navigator intercepts hyperlink clicks and history pops, delegating to the
// app's route decision and falling back to full navigation on opt-out.
type Navigator struct {
	frame  Frame
	handle RouteFunction
}

func NewNavigator(frame Frame, handle RouteFunction) *Navigator {
	return &Navigator{
		frame:  frame,
		handle: handle,
	}
}

// HandleClick applies the click policy. Once an enclosing link is found the
// default browser navigation is cancelled; a panic from the route callback
// propagates after that cancellation, on purpose, so the error stays
// observable during development.
func (self *Navigator) HandleClick(event *ClickEvent) {
	if !event.PrimaryButton {
		return
	}

	href := enclosingHref(event.Target)
	if href == "" {
		return
	}

	u, err := self.resolve(href)
	if err != nil {
		glog.Infof("[nav]bad href %q = %s\n", href, err)
		return
	}

	if self.handle(u) {
		self.frame.PushState(u, AppNavigationState)
		return
	}
	self.frame.NavigateNetwork(u)
}

// HandlePopState offers the current url to the route decision.
// Pops with no state payload are the initial load and are ignored.
func (self *Navigator) HandlePopState(event *PopStateEvent) {
	if event.State == nil {
		return
	}
	if !self.handle(self.frame.CurrentURL()) {
		self.frame.Reload()
	}
}

// Navigate is the programmatic entry point, same policy as a click.
func (self *Navigator) Navigate(u *url.URL) {
	if self.handle(u) {
		self.frame.PushState(u, AppNavigationState)
		return
	}
	self.frame.NavigateNetwork(u)
}

// NavigateReplace is Navigate with a replaced history entry, for redirects
// that should not grow history.
func (self *Navigator) NavigateReplace(u *url.URL) {
	if self.handle(u) {
		self.frame.ReplaceState(u, AppNavigationState)
		return
	}
	self.frame.NavigateNetwork(u)
}

// walk ancestors to the nearest enclosing link with a non-empty destination
func enclosingHref(target Anchor) string {
	for node := target; node != nil; node = node.Parent() {
		if href := node.Href(); href != "" {
			return href
		}
	}
	return ""
}

func (self *Navigator) resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	if current := self.frame.CurrentURL(); current != nil {
		return current.ResolveReference(ref), nil
	}
	return ref, nil
}
