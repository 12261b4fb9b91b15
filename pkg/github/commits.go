package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// CommitAuthors returns the distinct logins of the authors of commits to
// repo ("owner/name") within w. All pages are fetched within one call;
// the headers of the last page are reported.
func (c *Client) CommitAuthors(ctx context.Context, repo string, w window.Interval, cred ratelimit.Credential) (*client.Response, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return &client.Response{
			StatusCode: http.StatusBadRequest,
			AppError:   &client.AppError{Code: client.AppOther, Message: fmt.Sprintf("repository %q is not owner/name", repo)},
		}, nil
	}

	since, until := window.DayBounds(w)
	opts := &gh.CommitsListOptions{
		Since:       since,
		Until:       until,
		ListOptions: gh.ListOptions{PerPage: c.opts.PerPage},
	}

	rc := c.restClient(cred)
	seen := make(map[string]struct{})
	var header http.Header

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		commits, ghResp, err := rc.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return commitsError(repo, ghResp, err)
		}
		header = ghResp.Header

		for _, commit := range commits {
			if login := commit.GetAuthor().GetLogin(); login != "" {
				seen[login] = struct{}{}
			}
		}

		if ghResp.NextPage == 0 {
			break
		}
		opts.Page = ghResp.NextPage
	}

	items := make([]string, 0, len(seen))
	for login := range seen {
		items = append(items, login)
	}
	return &client.Response{StatusCode: http.StatusOK, Header: header, Items: items}, nil
}

// commitsError turns a go-github failure into a response the requester can
// classify. Errors without an HTTP response are transport errors.
func commitsError(repo string, ghResp *gh.Response, err error) (*client.Response, error) {
	if ghResp == nil || ghResp.Response == nil {
		return nil, fmt.Errorf("list commits %s: %w", repo, err)
	}

	header := ghResp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	resp := &client.Response{StatusCode: ghResp.StatusCode, Header: header}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		resp.StatusCode = http.StatusForbidden
		header.Set(ratelimit.HeaderRateRemaining, "0")
		if !rateErr.Rate.Reset.IsZero() {
			header.Set(ratelimit.HeaderRateReset, strconv.FormatInt(rateErr.Rate.Reset.Unix(), 10))
		}
		return resp, nil
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		resp.StatusCode = http.StatusForbidden
		if d := abuseErr.GetRetryAfter(); d > 0 && header.Get(ratelimit.HeaderRetryAfter) == "" {
			header.Set(ratelimit.HeaderRetryAfter, strconv.Itoa(int(d.Seconds())))
		}
		return resp, nil
	}

	switch ghResp.StatusCode {
	case http.StatusNotFound:
		resp.AppError = &client.AppError{Code: client.AppNotFound, Message: fmt.Sprintf("repository %s not found", repo)}
	case http.StatusConflict:
		// Empty repository: no commits, no authors.
		resp.StatusCode = http.StatusOK
		resp.Items = []string{}
	}
	return resp, nil
}
