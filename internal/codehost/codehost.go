// Package codehost implements the Code-host port of spec.md §6:
// getRepository and createPullRequest against GitHub, using the acting
// participant's own token (never the sandbox's).
package codehost

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
)

// requestTimeout bounds the code-host port's outbound HTTP call (spec.md
// §5: "identity/code-host: 60 s").
const requestTimeout = 60 * time.Second

// Repository is the result of GetRepository.
type Repository struct {
	DefaultBranch string
}

// PullRequest is the result of CreatePullRequest.
type PullRequest struct {
	Number  int
	HTMLURL string
	State   string
}

// CreatePullRequestRequest carries the inputs of spec.md §6's
// createPullRequest({owner, name, title, body, head, base, userToken}).
type CreatePullRequestRequest struct {
	Owner     string
	Name      string
	Title     string
	Body      string
	Head      string
	Base      string
	UserToken string
}

// Port is the Code-host port of spec.md §6.
type Port interface {
	GetRepository(ctx context.Context, owner, name, userToken string) (Repository, error)
	CreatePullRequest(ctx context.Context, req CreatePullRequestRequest) (PullRequest, error)
}

// Client implements Port against the real GitHub API.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client. A fresh *github.Client is constructed per call
// with the caller-supplied token, since each request in the pull-request
// path (spec.md §4.6) carries a different acting user's token; the
// underlying *http.Client is shared across calls and bounded by
// requestTimeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}}
}

// GetRepository implements Port.
func (c *Client) GetRepository(ctx context.Context, owner, name, userToken string) (Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gh := github.NewClient(c.httpClient).WithAuthToken(userToken)
	repo, _, err := gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repository{}, fmt.Errorf("codehost: getting repository %s/%s: %w", owner, name, err)
	}

	return Repository{DefaultBranch: repo.GetDefaultBranch()}, nil
}

// CreatePullRequest implements Port.
func (c *Client) CreatePullRequest(ctx context.Context, req CreatePullRequestRequest) (PullRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gh := github.NewClient(c.httpClient).WithAuthToken(req.UserToken)
	pr, _, err := gh.PullRequests.Create(ctx, req.Owner, req.Name, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Body:  github.Ptr(req.Body),
		Head:  github.Ptr(req.Head),
		Base:  github.Ptr(req.Base),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("codehost: creating pull request on %s/%s: %w", req.Owner, req.Name, err)
	}

	return PullRequest{
		Number:  pr.GetNumber(),
		HTMLURL: pr.GetHTMLURL(),
		State:   pr.GetState(),
	}, nil
}

var _ Port = (*Client)(nil)
