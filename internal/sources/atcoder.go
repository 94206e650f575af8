package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"contestbot/internal/contest"
)

const AtCoderURL = "https://atcoder.jp/contests/"

const (
	atcoderRows       = "#contest-table-upcoming tbody tr"
	atcoderTimeLayout = "2006-01-02 15:04:05-0700"
	atcoderISOLayout  = "20060102T1504"
)

// atcoderZone is the zone of the timeanddate.com "iso" parameter.
var atcoderZone = time.FixedZone("JST", 9*3600)

// AtCoder scrapes the upcoming contest table. Columns: start time, name with
// link, duration as H:MM.
type AtCoder struct{ opt Options }

func NewAtCoder(opt Options) *AtCoder {
	return &AtCoder{opt: opt.withDefaults(AtCoderURL, "atcoder")}
}

func (a *AtCoder) Name() string { return "atcoder" }

func (a *AtCoder) Fetch(ctx context.Context) ([]contest.Contest, error) {
	body, err := a.opt.get(ctx, a.Name())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: fmt.Errorf("parse html: %w", err)}
	}
	if doc.Find("#contest-table-upcoming").Length() == 0 {
		return nil, shapeError(a.Name(), "table #contest-table-upcoming not found")
	}

	var out []contest.Contest
	doc.Find(atcoderRows).Each(func(i int, row *goquery.Selection) {
		c, perr := a.parseRow(i, row)
		if perr != nil {
			a.opt.skip(perr)
			return
		}
		out = append(out, c)
	})
	return out, nil
}

func (a *AtCoder) parseRow(i int, row *goquery.Selection) (contest.Contest, *RowParseError) {
	fail := func(field string, err error) (contest.Contest, *RowParseError) {
		return contest.Contest{}, &RowParseError{Source: a.Name(), Row: i, Field: field, Err: err}
	}
	cols := row.Find("td")
	if cols.Length() < 3 {
		return fail("columns", fmt.Errorf("got %d, want >= 3", cols.Length()))
	}

	start, err := atcoderStart(cols.Eq(0))
	if err != nil {
		return fail("start", err)
	}

	link := cols.Eq(1).Find("a").Last()
	name := strings.TrimSpace(link.Text())
	if name == "" {
		name = strings.TrimSpace(cols.Eq(1).Text())
	}
	href, ok := link.Attr("href")
	if !ok {
		return fail("link", fmt.Errorf("missing href"))
	}
	u, err := resolveLink(a.opt.URL, href)
	if err != nil {
		return fail("link", err)
	}

	d, err := ParseHourMinute(cols.Eq(2).Text())
	if err != nil {
		return fail("duration", err)
	}

	c, err := contest.New(name, start, d, u, contest.AtCoder, a.opt.Location)
	if err != nil {
		return fail("contest", err)
	}
	return c, nil
}

// atcoderStart reads the <time> text, falling back to the iso parameter of
// the timeanddate.com link wrapping it.
func atcoderStart(cell *goquery.Selection) (time.Time, error) {
	raw := strings.TrimSpace(cell.Find("time").Text())
	if raw == "" {
		raw = strings.TrimSpace(cell.Text())
	}
	if t, err := time.Parse(atcoderTimeLayout, raw); err == nil {
		return t, nil
	}
	if href, ok := cell.Find("a").Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			if iso := u.Query().Get("iso"); iso != "" {
				return time.ParseInLocation(atcoderISOLayout, iso, atcoderZone)
			}
		}
	}
	return time.Time{}, fmt.Errorf("unparseable start %q", raw)
}
