package sources

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"contestbot/internal/contest"
)

const (
	CodeChefURL     = "https://www.codechef.com/contests"
	CodeChefFeedURL = "https://www.codechef.com/events/feed"

	// CodeChefFeedDuration is assumed for feed items, which carry no length.
	CodeChefFeedDuration = 3 * time.Hour

	codechefRows = "#future-contests-data tr"
)

// CodeChefMode selects how the adapter reads the platform.
type CodeChefMode string

const (
	CodeChefHTML CodeChefMode = "html"
	CodeChefRSS  CodeChefMode = "rss"
)

// CodeChef scrapes the future contests table (code, name with link, start,
// end; times are carried in data-starttime/data-endtime attributes) or reads
// the events feed.
type CodeChef struct {
	opt  Options
	mode CodeChefMode
}

func NewCodeChef(opt Options, mode CodeChefMode) *CodeChef {
	if mode != CodeChefRSS {
		mode = CodeChefHTML
	}
	def := CodeChefURL
	if mode == CodeChefRSS {
		def = CodeChefFeedURL
	}
	return &CodeChef{opt: opt.withDefaults(def, "codechef"), mode: mode}
}

func (a *CodeChef) Name() string { return "codechef" }

func (a *CodeChef) Fetch(ctx context.Context) ([]contest.Contest, error) {
	body, err := a.opt.get(ctx, a.Name())
	if err != nil {
		return nil, err
	}
	if a.mode == CodeChefRSS {
		return a.fromFeed(body)
	}
	return a.fromTable(body)
}

func (a *CodeChef) fromTable(body []byte) ([]contest.Contest, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: fmt.Errorf("parse html: %w", err)}
	}
	if doc.Find("#future-contests-data").Length() == 0 {
		return nil, shapeError(a.Name(), "#future-contests-data not found")
	}

	var out []contest.Contest
	doc.Find(codechefRows).Each(func(i int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() == 0 {
			return // header row
		}
		c, perr := a.parseRow(i, cols)
		if perr != nil {
			a.opt.skip(perr)
			return
		}
		out = append(out, c)
	})
	return out, nil
}

func (a *CodeChef) parseRow(i int, cols *goquery.Selection) (contest.Contest, *RowParseError) {
	fail := func(field string, err error) (contest.Contest, *RowParseError) {
		return contest.Contest{}, &RowParseError{Source: a.Name(), Row: i, Field: field, Err: err}
	}
	if cols.Length() < 4 {
		return fail("columns", fmt.Errorf("got %d, want >= 4", cols.Length()))
	}

	link := cols.Eq(1).Find("a").First()
	name := strings.TrimSpace(link.Text())
	if name == "" {
		return fail("name", fmt.Errorf("empty"))
	}
	href, ok := link.Attr("href")
	if !ok {
		return fail("link", fmt.Errorf("missing href"))
	}
	u, err := resolveLink(a.opt.URL, href)
	if err != nil {
		return fail("link", err)
	}

	start, err := attrTime(cols.Eq(2), "data-starttime")
	if err != nil {
		return fail("start", err)
	}
	end, err := attrTime(cols.Eq(3), "data-endtime")
	if err != nil {
		return fail("end", err)
	}
	if end.Before(start) {
		return fail("end", fmt.Errorf("ends before it starts"))
	}

	c, err := contest.New(name, start, end.Sub(start), u, contest.CodeChef, a.opt.Location)
	if err != nil {
		return fail("contest", err)
	}
	return c, nil
}

func attrTime(sel *goquery.Selection, attr string) (time.Time, error) {
	raw, ok := sel.Attr(attr)
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", attr)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", attr, err)
	}
	return t, nil
}

func (a *CodeChef) fromFeed(body []byte) ([]contest.Contest, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: fmt.Errorf("parse feed: %w", err)}
	}
	out := make([]contest.Contest, 0, len(feed.Items))
	for i, item := range feed.Items {
		if item == nil || item.PublishedParsed == nil {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "published", Err: fmt.Errorf("missing")})
			continue
		}
		if strings.TrimSpace(item.Link) == "" {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "link", Err: fmt.Errorf("missing")})
			continue
		}
		c, err := contest.New(item.Title, *item.PublishedParsed, CodeChefFeedDuration, item.Link, contest.CodeChef, a.opt.Location)
		if err != nil {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "contest", Err: err})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
