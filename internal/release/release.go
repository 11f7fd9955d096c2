// Package release checks GitHub for the latest tagged release of a teaching
// kernel image repository. It is unrelated to the thread/io core; it exists
// so operators running kernelctl in a classroom can be told when the image
// repository they cloned from has moved on.
package release

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
)

// Release describes a single tagged GitHub release.
type Release struct {
	Name        string
	Tag         string
	PublishedAt string
}

// ManagerConfig configures a Manager. GHToken is optional; without it,
// requests are made unauthenticated and are subject to GitHub's stricter
// unauthenticated rate limit.
type ManagerConfig struct {
	GHToken string
}

// Manager retrieves release metadata from GitHub.
type Manager struct {
	ManagerConfig
	client *github.Client
}

// NewManager takes an optional configuration (conf) and returns a Manager.
// While conf is variadic, only the last conf argument passed is used; this
// mirrors the optional-config convention used throughout this module.
func NewManager(conf ...ManagerConfig) Manager {
	opts := ManagerConfig{}
	if len(conf) > 0 {
		opts = conf[len(conf)-1]
	}

	var httpClient *http.Client
	if opts.GHToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.GHToken})
		httpClient = oauth2.NewClient(context.Background(), src)
	}

	return Manager{ManagerConfig: opts, client: github.NewClient(httpClient)}
}

// GetLatestRelease returns the most recent release for repoURL, expressed
// as "$OWNER/$REPO". An error is returned if repoURL is malformed or the
// lookup fails.
func (m *Manager) GetLatestRelease(repoURL string) (*Release, error) {
	parts := strings.Split(repoURL, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("repository (%s) was invalid; expected $OWNER/$REPO", repoURL)
	}

	rel, _, err := m.client.Repositories.GetLatestRelease(context.Background(), parts[0], parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed retrieving latest release for (%s): %s", repoURL, err)
	}

	return &Release{
		Name:        rel.GetName(),
		Tag:         rel.GetTagName(),
		PublishedAt: rel.GetPublishedAt().String(),
	}, nil
}
