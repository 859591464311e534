// Package fetch satisfies repository targets: it clones or updates a pinned
// revision of an external component repository. Network failures are retried
// a bounded number of times with a fixed delay, then escalated to an ordinary
// action failure.
package fetch

import (
	"context"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/docforge-build/docforge/target"
)

// Client fetches pinned repository revisions.
type Client struct {
	Retries int // retry attempts after the first failure
	Delay   Sleeper
	Log     zerolog.Logger
}

// NewClient returns a client with the conservative default policy: two
// retries with a fixed two second delay.
func NewClient(log zerolog.Logger) *Client {
	return &Client{Retries: 2, Delay: FixedDelay(defaultDelay), Log: log}
}

// Fetch ensures spec.Dir holds spec.URL checked out at spec.Rev. An existing
// clone is reused and updated; otherwise a fresh clone is made.
func (c *Client) Fetch(ctx context.Context, spec target.FetchSpec) error {
	return c.withRetry(ctx, "fetch "+spec.URL, func() error {
		return c.fetchOnce(ctx, spec)
	})
}

func (c *Client) fetchOnce(ctx context.Context, spec target.FetchSpec) error {
	repo, err := c.openOrClone(ctx, spec)
	if err != nil {
		return err
	}
	if spec.Rev == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(spec.Rev))
	if err != nil {
		// The pinned revision may postdate the local clone; fetch and retry
		// resolution once before giving up.
		if ferr := c.fetchRemote(ctx, repo); ferr != nil {
			return ferr
		}
		hash, err = repo.ResolveRevision(plumbing.Revision(spec.Rev))
		if err != nil {
			return &PermanentError{Op: "resolve", URL: spec.URL,
				Err: errors.Wrapf(err, "revision %s", spec.Rev)}
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrapf(err, "worktree of %s", spec.Dir)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return errors.Wrapf(err, "checkout %s in %s", spec.Rev, spec.Dir)
	}
	c.Log.Info().Str("url", spec.URL).Str("rev", spec.Rev).Str("dir", spec.Dir).Msg("repository pinned")
	return nil
}

func (c *Client) openOrClone(ctx context.Context, spec target.FetchSpec) (*git.Repository, error) {
	if _, err := os.Stat(spec.Dir); err == nil {
		repo, oerr := git.PlainOpen(spec.Dir)
		if oerr == nil {
			if ferr := c.fetchRemote(ctx, repo); ferr != nil {
				return nil, ferr
			}
			return repo, nil
		}
		c.Log.Warn().Str("dir", spec.Dir).Err(oerr).Msg("existing dir is not a repository, recloning")
		if rerr := os.RemoveAll(spec.Dir); rerr != nil {
			return nil, errors.Wrapf(rerr, "removing %s", spec.Dir)
		}
	}

	c.Log.Debug().Str("url", spec.URL).Str("dir", spec.Dir).Msg("cloning repository")
	repo, err := git.PlainCloneContext(ctx, spec.Dir, false, &git.CloneOptions{
		URL:  spec.URL,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, classify("clone", spec.URL, err)
	}
	return repo, nil
}

func (c *Client) fetchRemote(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{Tags: git.AllTags})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify("fetch", "", err)
	}
	return nil
}

// PermanentError marks failures that retrying cannot fix (bad credentials,
// missing repository, unresolvable revision).
type PermanentError struct {
	Op  string
	URL string
	Err error
}

func (e *PermanentError) Error() string {
	if e.URL != "" {
		return e.Op + " " + e.URL + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// classify wraps go-git errors so the retry loop can tell permanent failures
// from transient network ones.
func classify(op, url string, err error) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrRepositoryNotFound) {
		return &PermanentError{Op: op, URL: url, Err: err}
	}
	l := strings.ToLower(err.Error())
	if strings.Contains(l, "authentication") || strings.Contains(l, "not found") {
		return &PermanentError{Op: op, URL: url, Err: err}
	}
	return errors.Wrap(err, op)
}

func isPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
