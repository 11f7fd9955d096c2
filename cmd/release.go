package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctir/kernelcore/internal/config"
	"github.com/arctir/kernelcore/internal/provenance"
	"github.com/arctir/kernelcore/internal/release"
)

const defaultImageRepo = "cs3210-sp24/kernel"

func newReleaseCmd(cfg config.Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "release",
		Short: "Check upstream state of the teaching-kernel image this module simulates",
	}

	c.AddCommand(newReleaseCheckLatestCmd(cfg))
	return c
}

func newReleaseCheckLatestCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check-latest [repo]",
		Short: "Report the latest tagged release, and the HEAD commit, of a boot-image source repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := defaultImageRepo
			if len(args) == 1 {
				repo = args[0]
			}

			mgr := release.NewManager(cfg.Release)
			rel, err := mgr.GetLatestRelease(repo)
			if err != nil {
				return fmt.Errorf("checking latest release: %w", err)
			}
			fmt.Printf("latest release: %s (%s), published %s\n", rel.Name, rel.Tag, rel.PublishedAt)

			resolver := provenance.NewResolver()
			commit, err := resolver.ResolveLatestCommit("https://github.com/" + repo)
			if err != nil {
				return fmt.Errorf("resolving HEAD provenance: %w", err)
			}
			fmt.Printf("HEAD commit: %s \"%s\" (%s, %s)\n", commit.Hash[:12], commit.Title, commit.Author, commit.Date.Format("2006-01-02"))
			return nil
		},
	}
}
