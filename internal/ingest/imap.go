package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/money"
)

// IMAPConfig is the ingest.imap config section.
type IMAPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Folder   string        `mapstructure:"folder"`
	Search   string        `mapstructure:"search"`
	MarkSeen bool          `mapstructure:"mark_seen"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// IMAP reads marketplace alert mails from a mailbox.
type IMAP struct {
	cfg    IMAPConfig
	logger zerolog.Logger
}

// NewIMAP builds the mailbox source.
func NewIMAP(cfg IMAPConfig, logger zerolog.Logger) *IMAP {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAP{cfg: cfg, logger: logger.With().Str("component", "imap_import").Logger()}
}

// Name implements ListingSource.
func (m *IMAP) Name() string { return string(domain.SourceSubitoIMAP) }

// Listings fetches unseen messages, optionally narrowed by the search text,
// and parses each into a listing. Unparseable mails are logged and skipped.
func (m *IMAP) Listings(ctx context.Context) ([]domain.Listing, error) {
	if m.cfg.Host == "" || m.cfg.Username == "" {
		return nil, errors.New("imap host and username are required")
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	c.Timeout = m.cfg.Timeout
	defer func() { _ = c.Logout() }()

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		return nil, fmt.Errorf("select %s: %w", m.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if m.cfg.Search != "" {
		criteria.Text = []string{m.cfg.Search}
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var out []domain.Listing
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		l, err := ParseAlertMail(body)
		if err != nil {
			m.logger.Warn().Err(err).Uint32("uid", msg.Uid).Msg("alert mail skipped")
			continue
		}
		out = append(out, l)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("imap fetch: %w", err)
	}

	if m.cfg.MarkSeen {
		flags := []interface{}{imap.SeenFlag}
		if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			m.logger.Warn().Err(err).Msg("mark seen failed")
		}
	}

	m.logger.Info().Int("messages", len(uids)).Int("listings", len(out)).Msg("alert mails read")
	return out, nil
}

var (
	urlRe      = regexp.MustCompile(`https?://[^\s<>"]+`)
	locationRe = regexp.MustCompile(`(?i)(?:luogo|località|localita|zona|a)\s*:?\s*([A-ZÀ-Ý][\p{L}' ]+\([A-Z]{2}\))`)
)

// ParseAlertMail turns one RFC 5322 alert mail into a listing. The subject is
// the title; price, link and location come from the first text/plain part,
// or from the text/html part when the mail has no plain alternative.
func ParseAlertMail(r io.Reader) (domain.Listing, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("read mail: %w", err)
	}
	defer mr.Close()

	subject, _ := mr.Header.Subject()
	l := domain.Listing{
		Title:     strings.TrimSpace(subject),
		Currency:  "EUR",
		Condition: "used",
		Source:    domain.SourceSubitoIMAP,
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		ts := date.UTC()
		l.ObservedAt = &ts
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		l.Seller = from[0].Address
	}

	var body, htmlLink string
	var htmlBody []byte
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Listing{}, fmt.Errorf("read mail part: %w", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "text/plain" && ct != "text/html" {
			continue
		}
		raw, err := io.ReadAll(part.Body)
		if err != nil {
			return domain.Listing{}, fmt.Errorf("read mail body: %w", err)
		}
		if ct == "text/html" {
			if htmlBody == nil {
				htmlBody = raw
			}
			continue
		}
		body = string(raw)
		break
	}
	if body == "" && htmlBody != nil {
		body, htmlLink = htmlText(htmlBody)
	}

	if l.Title == "" {
		l.Title = "Subito alert"
	}
	if p, ok := money.ParseEURTagged(body); ok {
		l.Price = &p
	} else if p, ok := money.ParseEUR(body); ok {
		l.Price = &p
	}
	if htmlLink != "" {
		l.URL = htmlLink
	} else if u := urlRe.FindString(body); u != "" {
		l.URL = strings.TrimRight(u, ").,")
	}
	if m := locationRe.FindStringSubmatch(body); m != nil {
		l.Location = strings.TrimSpace(m[1])
	}
	if strings.TrimSpace(body) != "" {
		l.Snippets = []string{body}
	}
	return l, nil
}

// htmlText flattens an HTML mail body and picks the first listing link.
func htmlText(raw []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style").Remove()

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if strings.Contains(href, "subito.it/") && strings.HasSuffix(strings.SplitN(href, "?", 2)[0], ".htm") {
			link = href
			return false
		}
		return true
	})

	var lines []string
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		for _, line := range strings.Split(sel.Text(), "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				lines = append(lines, line)
			}
		}
	})
	return strings.Join(lines, "\n"), link
}

var _ ListingSource = (*IMAP)(nil)
