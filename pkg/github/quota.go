package github

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
)

// Quota asks the API for the core quota of a credential. The call does not
// count against the quota.
func (c *Client) Quota(ctx context.Context, cred ratelimit.Credential) (ratelimit.QuotaState, error) {
	limits, _, err := c.restClient(cred).RateLimit.Get(ctx)
	if err != nil {
		return ratelimit.QuotaState{}, fmt.Errorf("get rate limit for %s: %w", cred.ID, err)
	}

	core := limits.GetCore()
	if core == nil {
		return ratelimit.QuotaState{}, fmt.Errorf("get rate limit for %s: no core quota in response", cred.ID)
	}
	return ratelimit.QuotaState{
		CredentialID: cred.ID,
		Remaining:    core.Remaining,
		ResetAt:      core.Reset.Time,
		LastUpdate:   time.Now(),
	}, nil
}
