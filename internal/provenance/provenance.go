// Package provenance resolves the git commit a demo boot image was built
// from. A process's provenance is cosmetic metadata, not part of the
// cooperative thread manager's contract, but mirrors a real kernel's
// practice of embedding build-provenance strings into a kernel image.
package provenance

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Commit describes the git commit a boot image was built from.
type Commit struct {
	Hash    string
	Title   string
	Date    time.Time
	Author  string
	Message string
}

// Resolver resolves provenance commits for a boot-image source repository.
type Resolver struct{}

// NewResolver returns a Resolver. It takes no configuration today; it
// exists as a type (rather than bare functions) so the manner in which
// provenance is looked up can be swapped in tests.
func NewResolver() Resolver {
	return Resolver{}
}

// ResolveLatestCommit clones repoURL in memory and returns the most recent
// commit on its default branch. `release check-latest` uses it to report
// the HEAD commit of a boot-image source repository.
func (Resolver) ResolveLatestCommit(repoURL string) (*Commit, error) {
	store := memory.NewStorage()
	repo, err := git.Clone(store, nil, &git.CloneOptions{
		URL:        repoURL,
		NoCheckout: true,
		Depth:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed cloning boot-image source %s: %s", repoURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed resolving HEAD for %s: %s", repoURL, err)
	}

	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed reading commit for %s: %s", repoURL, err)
	}

	return &Commit{
		Hash:    commitObj.Hash.String(),
		Title:   firstLine(commitObj.Message),
		Date:    commitObj.Author.When,
		Author:  commitObj.Author.Name,
		Message: commitObj.Message,
	}, nil
}

func firstLine(msg string) string {
	for i, c := range msg {
		if c == '\n' {
			return msg[:i]
		}
	}
	return msg
}
