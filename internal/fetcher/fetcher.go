// Package fetcher retrieves current new-item prices from price-comparison
// pages. Pages are fetched politely and parsed best-effort; a page that
// cannot be parsed yields nothing rather than a guessed price.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
)

// Fetcher yields raw observations for one price-comparison source.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context) ([]domain.RawObservation, error)
}

// Target is one page to watch; SKU is passed on as the normaliser hint.
type Target struct {
	URL string `mapstructure:"url"`
	SKU string `mapstructure:"sku"`
}

// Options parameterise the HTTP side of every fetcher.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	PoliteDelay time.Duration
	Retries     int
}

// pageFetcher holds the shared HTTP client and the per-page loop.
type pageFetcher struct {
	source  domain.Source
	targets []Target
	opts    Options
	client  *resty.Client
	logger  zerolog.Logger
	now     func() time.Time
}

func newPageFetcher(source domain.Source, targets []Target, opts Options, logger zerolog.Logger) pageFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; dealwatch/1.0)"
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeader("Accept-Language", "it-IT,it;q=0.9")
	if opts.Retries > 0 {
		client.SetRetryCount(opts.Retries)
		client.SetRetryWaitTime(2 * time.Second)
	}

	return pageFetcher{
		source:  source,
		targets: targets,
		opts:    opts,
		client:  client,
		logger:  logger.With().Str("component", string(source)+"_fetcher").Logger(),
		now:     time.Now,
	}
}

// each loads every target in turn and hands the parsed document to parse.
// Failures are logged per URL and joined into the returned error; the
// observations gathered so far are always returned.
func (p pageFetcher) each(ctx context.Context, parse func(t Target, doc *goquery.Document, at time.Time) []domain.RawObservation) ([]domain.RawObservation, error) {
	var (
		out  []domain.RawObservation
		errs []error
	)
	for i, target := range p.targets {
		if i > 0 && p.opts.PoliteDelay > 0 {
			select {
			case <-ctx.Done():
				return out, errors.Join(append(errs, ctx.Err())...)
			case <-time.After(p.opts.PoliteDelay):
			}
		}

		doc, err := p.load(ctx, target.URL)
		if err != nil {
			p.logger.Warn().Err(err).Str("url", target.URL).Msg("fetch failed")
			errs = append(errs, err)
			continue
		}
		found := parse(target, doc, p.now().UTC())
		p.logger.Debug().Str("url", target.URL).Int("offers", len(found)).Msg("page parsed")
		out = append(out, found...)
	}
	return out, errors.Join(errs...)
}

func (p pageFetcher) load(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := p.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
