package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/agrisol/cropdoctor/internal/errors"
)

// ShoutrrrSender sends via nicholas-fedor/shoutrrr.
// A single router serves every configured URL.
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds the router.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(scrub(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

func (*ShoutrrrSender) Name() string { return "shoutrrr" }

// Send delivers n to every URL and returns the first failure.
func (s *ShoutrrrSender) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	for _, err := range s.sender.Send(n.Message, &params) {
		if err != nil {
			return errors.New(scrub(err)).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("crop", n.Crop).
				Build()
		}
	}
	return nil
}

// scrub strips tokens and credentials that shoutrrr echoes back from service URLs.
func scrub(err error) error {
	return errors.NewStd(errors.ScrubMessage(err.Error()))
}
