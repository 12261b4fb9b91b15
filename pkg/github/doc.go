// Package github provides request functions for the GitHub API.
//
// The request functions match client.RequestFunc and never retry on their
// own:
//
//   - Contributions queries a user's commit contributions per repository
//     through the GraphQL API; items are repository names (owner/name).
//   - CommitAuthors lists the commits of a repository through the REST API
//     and returns the distinct author logins.
//   - Accessible checks a batch of up to 100 repositories in one GraphQL
//     query of aliased repository lookups; items are the repositories the
//     credential can see.
//
// Each credential gets its own oauth2 transport. The response headers are
// passed through so the rate limiter sees the X-RateLimit-* feedback.
//
// # Basic Usage
//
//	gh, err := github.New(github.DefaultOptions())
//	requester, err := client.NewRequester(limiter, gh.Contributions, client.DefaultRequesterOptions())
package github
