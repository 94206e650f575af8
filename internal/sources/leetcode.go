package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"contestbot/internal/contest"
)

const LeetCodeURL = "https://leetcode.com/graphql"

const leetcodeQuery = `query { contestUpcomingContests { title startTime duration titleSlug } }`

// LeetCode queries the GraphQL endpoint for upcoming contests. Everything it
// returns is upcoming, so there is no phase filter.
type LeetCode struct{ opt Options }

func NewLeetCode(opt Options) *LeetCode {
	return &LeetCode{opt: opt.withDefaults(LeetCodeURL, "leetcode")}
}

func (a *LeetCode) Name() string { return "leetcode" }

type lcResponse struct {
	Data *struct {
		Upcoming *[]lcContest `json:"contestUpcomingContests"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type lcContest struct {
	Title     string `json:"title"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
	TitleSlug string `json:"titleSlug"`
}

func (a *LeetCode) Fetch(ctx context.Context) ([]contest.Contest, error) {
	payload, err := json.Marshal(map[string]string{"query": leetcodeQuery})
	if err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opt.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", "https://leetcode.com/contest/")

	body, err := a.opt.fetch(ctx, a.Name(), req)
	if err != nil {
		return nil, err
	}
	var resp lcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: fmt.Errorf("decode: %w", err)}
	}
	if len(resp.Errors) > 0 {
		return nil, shapeError(a.Name(), "graphql error: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil || resp.Data.Upcoming == nil {
		return nil, shapeError(a.Name(), "missing data.contestUpcomingContests")
	}

	out := make([]contest.Contest, 0, len(*resp.Data.Upcoming))
	for i, c := range *resp.Data.Upcoming {
		slug := strings.TrimSpace(c.TitleSlug)
		if slug == "" || c.StartTime <= 0 {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "titleSlug/startTime", Err: fmt.Errorf("missing")})
			continue
		}
		item, err := contest.New(
			c.Title,
			time.Unix(c.StartTime, 0),
			time.Duration(c.Duration)*time.Second,
			"https://leetcode.com/contest/"+slug,
			contest.LeetCode,
			a.opt.Location,
		)
		if err != nil {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "contest", Err: err})
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
