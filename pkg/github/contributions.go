package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// contributionsQuery lists the repositories a user committed to.
const contributionsQuery = `query($login:String!,$from:DateTime!,$to:DateTime!){
  user(login:$login){
    contributionsCollection(from:$from,to:$to){
      commitContributionsByRepository{
        repository{nameWithOwner}
      }
    }
  }
}`

// maxBodyBytes caps how much of a GraphQL response is read.
const maxBodyBytes = 16 << 20

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type contributionsResponse struct {
	Data struct {
		User *struct {
			ContributionsCollection struct {
				CommitContributionsByRepository []struct {
					Repository struct {
						NameWithOwner string `json:"nameWithOwner"`
					} `json:"repository"`
				} `json:"commitContributionsByRepository"`
			} `json:"contributionsCollection"`
		} `json:"user"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Contributions returns the repositories login committed to within w.
func (c *Client) Contributions(ctx context.Context, login string, w window.Interval, cred ratelimit.Credential) (*client.Response, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: contributionsQuery,
		Variables: map[string]any{
			"login": login,
			"from":  w.Start.UTC().Format(time.RFC3339),
			"to":    w.End.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient(cred).Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request: %w", err)
	}
	defer httpResp.Body.Close()

	resp := &client.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}
	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxBodyBytes))
		return resp, nil
	}

	var payload contributionsResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return resp, fmt.Errorf("%w: decode graphql response: %v", client.ErrMalformedPayload, err)
	}

	if app := graphQLAppError(payload.Errors); app != nil {
		resp.AppError = app
		return resp, nil
	}
	if payload.Data.User == nil {
		resp.AppError = &client.AppError{Code: client.AppNotFound, Message: fmt.Sprintf("user %s not found", login)}
		return resp, nil
	}

	repos := payload.Data.User.ContributionsCollection.CommitContributionsByRepository
	resp.Items = make([]string, 0, len(repos))
	for _, r := range repos {
		if r.Repository.NameWithOwner != "" {
			resp.Items = append(resp.Items, r.Repository.NameWithOwner)
		}
	}
	return resp, nil
}

// graphQLAppError maps a GraphQL errors array onto an AppError.
func graphQLAppError(errs []graphQLError) *client.AppError {
	if len(errs) == 0 {
		return nil
	}

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		switch {
		case e.Type == "NOT_FOUND" || strings.Contains(e.Message, "Could not resolve to a User"):
			return &client.AppError{Code: client.AppNotFound, Message: e.Message}
		case e.Type == "RATE_LIMITED":
			return &client.AppError{Code: client.AppRateLimited, Message: e.Message}
		}
		messages = append(messages, e.Message)
	}
	return &client.AppError{Code: client.AppOther, Message: strings.Join(messages, "; ")}
}
