package plotserver

import (
	"github.com/pkg/browser"
)

// Opener asks the environment to show a URL, usually in a browser tab.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// BrowserOpener opens URLs with the platform's default browser.
type BrowserOpener struct{}

func (BrowserOpener) Open(url string) error {
	return browser.OpenURL(url)
}

// NoopOpener never opens anything; the URL is only logged by the server.
type NoopOpener struct{}

func (NoopOpener) Open(string) error { return nil }
