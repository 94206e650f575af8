package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"contestbot/internal/contest"
)

const CodeforcesURL = "https://codeforces.com/api/contest.list"

// Codeforces reads the public contest.list API and keeps contests whose
// phase is BEFORE.
type Codeforces struct{ opt Options }

func NewCodeforces(opt Options) *Codeforces {
	return &Codeforces{opt: opt.withDefaults(CodeforcesURL, "codeforces")}
}

func (a *Codeforces) Name() string { return "codeforces" }

type cfResponse struct {
	Status  string       `json:"status"`
	Comment string       `json:"comment"`
	Result  *[]cfContest `json:"result"`
}

type cfContest struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Phase            string `json:"phase"`
	DurationSeconds  int64  `json:"durationSeconds"`
	StartTimeSeconds int64  `json:"startTimeSeconds"`
}

func (a *Codeforces) Fetch(ctx context.Context) ([]contest.Contest, error) {
	body, err := a.opt.get(ctx, a.Name())
	if err != nil {
		return nil, err
	}
	var resp cfResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &SourceFetchError{Source: a.Name(), Err: fmt.Errorf("decode: %w", err)}
	}
	if resp.Status != "OK" {
		return nil, shapeError(a.Name(), "status %q: %s", resp.Status, resp.Comment)
	}
	if resp.Result == nil {
		return nil, shapeError(a.Name(), "missing result")
	}

	out := make([]contest.Contest, 0, 8)
	for i, c := range *resp.Result {
		if c.Phase != "BEFORE" {
			continue
		}
		if c.StartTimeSeconds <= 0 {
			a.opt.skip(&RowParseError{Source: a.Name(), Row: i, Field: "startTimeSeconds", Err: fmt.Errorf("missing")})
			continue
		}
		item, err := contest.New(
			c.Name,
			time.Unix(c.StartTimeSeconds, 0),
			time.Duration(c.DurationSeconds)*time.Second,
			"https://codeforces.com/contests/"+strconv.FormatInt(c.ID, 10),
			contest.Codeforces,
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
