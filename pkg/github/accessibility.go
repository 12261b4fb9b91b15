package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// MaxAccessibilityBatch is the most repositories checked by one query.
const MaxAccessibilityBatch = 100

type accessibilityResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphQLError             `json:"errors"`
}

// ParseRepository accepts owner/name or a github.com URL and returns the
// owner and name. Anything else reports ok false.
func ParseRepository(ref string) (owner, name string, ok bool) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(strings.TrimSuffix(ref, "/"), ".git")
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "https://www.github.com/", "github.com/"} {
		if rest, found := strings.CutPrefix(ref, prefix); found {
			ref = rest
			break
		}
	}
	if strings.Contains(ref, "://") {
		return "", "", false
	}

	parts := strings.Split(ref, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// SplitBatch splits a comma-separated repository list into batches of at
// most MaxAccessibilityBatch entries, each joined back with commas.
func SplitBatch(list string) []string {
	var refs []string
	for _, ref := range strings.Split(list, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}

	var batches []string
	for len(refs) > 0 {
		n := min(len(refs), MaxAccessibilityBatch)
		batches = append(batches, strings.Join(refs[:n], ","))
		refs = refs[n:]
	}
	return batches
}

// Accessible checks which repositories of a comma-separated batch exist
// and are visible to the credential, in a single GraphQL query. Items are
// the accessible repositories as owner/name; an entry that does not parse
// as a repository counts as inaccessible and is not queried. The window is
// ignored.
func (c *Client) Accessible(ctx context.Context, batch string, _ window.Interval, cred ratelimit.Credential) (*client.Response, error) {
	var (
		aliases []string
		names   = make(map[string]string)
		vars    = make(map[string]any)
		params  []string
		fields  []string
	)
	for _, ref := range strings.Split(batch, ",") {
		owner, name, ok := ParseRepository(ref)
		if !ok {
			continue
		}
		i := len(aliases)
		alias := fmt.Sprintf("r%d", i)
		aliases = append(aliases, alias)
		names[alias] = owner + "/" + name
		vars[fmt.Sprintf("o%d", i)] = owner
		vars[fmt.Sprintf("n%d", i)] = name
		params = append(params, fmt.Sprintf("$o%d:String!,$n%d:String!", i, i))
		fields = append(fields, fmt.Sprintf("%s:repository(owner:$o%d,name:$n%d){id}", alias, i, i))
	}

	if len(aliases) > MaxAccessibilityBatch {
		return &client.Response{
			StatusCode: http.StatusOK,
			AppError: &client.AppError{
				Code:    client.AppOther,
				Message: fmt.Sprintf("batch of %d repositories exceeds %d", len(aliases), MaxAccessibilityBatch),
			},
		}, nil
	}
	if len(aliases) == 0 {
		return &client.Response{StatusCode: http.StatusOK, Items: []string{}}, nil
	}

	body, err := json.Marshal(graphQLRequest{
		Query:     "query(" + strings.Join(params, ",") + "){" + strings.Join(fields, " ") + "}",
		Variables: vars,
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

	var payload accessibilityResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return resp, fmt.Errorf("%w: decode graphql response: %v", client.ErrMalformedPayload, err)
	}

	// Missing and private repositories come back as null aliases with a
	// per-alias error; only the remaining errors fail the batch.
	var rest []graphQLError
	for _, e := range payload.Errors {
		if e.Type != "NOT_FOUND" && e.Type != "FORBIDDEN" {
			rest = append(rest, e)
		}
	}
	if app := graphQLAppError(rest); app != nil {
		resp.AppError = app
		return resp, nil
	}

	resp.Items = make([]string, 0, len(aliases))
	for _, alias := range aliases {
		raw, ok := payload.Data[alias]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		resp.Items = append(resp.Items, names[alias])
	}
	return resp, nil
}
