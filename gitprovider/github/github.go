// Package github publishes generated projects to GitHub.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/jxucoder/botforge/gitprovider"
)

// Client wraps the GitHub API for project export.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	c.gh.BaseURL = u
	return c, nil
}

// Publish creates a repository and commits each file through the contents
// API, one request at a time in file order.
func (c *Client) Publish(ctx context.Context, opts gitprovider.PublishOptions) (string, error) {
	if len(opts.Files) == 0 {
		return "", fmt.Errorf("nothing to publish")
	}
	org, name, err := c.resolveOwner(ctx, opts.Repo)
	if err != nil {
		return "", err
	}

	repo, _, err := c.gh.Repositories.Create(ctx, org, &gogh.Repository{
		Name:        gogh.Ptr(name),
		Private:     gogh.Ptr(opts.Private),
		Description: gogh.Ptr(opts.Description),
	})
	if err != nil {
		return "", fmt.Errorf("creating repository: %w", err)
	}
	owner := repo.GetOwner().GetLogin()

	for _, f := range opts.Files {
		_, _, err := c.gh.Repositories.CreateFile(ctx, owner, repo.GetName(), f.Name, &gogh.RepositoryContentFileOptions{
			Message: gogh.Ptr(fmt.Sprintf("Add %s", f.Name)),
			Content: []byte(f.Code),
		})
		if err != nil {
			return "", fmt.Errorf("committing %s: %w", f.Name, err)
		}
	}

	return repo.GetHTMLURL(), nil
}

// resolveOwner splits "owner/name" and returns an empty org when the owner is
// the authenticated user.
func (c *Client) resolveOwner(ctx context.Context, fullName string) (org, name string, err error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return "", "", fmt.Errorf("repository name is required")
	}
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return "", fullName, nil
	}
	if owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"name\" or \"owner/name\"", fullName)
	}

	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", "", fmt.Errorf("getting authenticated user: %w", err)
	}
	if strings.EqualFold(user.GetLogin(), owner) {
		return "", name, nil
	}
	return owner, name, nil
}

var _ gitprovider.Publisher = (*Client)(nil)
