// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout              = 30 * time.Second
	defaultRetries              = 3
	defaultRetryInterval        = 500 * time.Millisecond
	defaultMaxConcurrentFetches = 8
	defaultUserAgent            = "kite-resolver/1"

	// maxSharedRetries bounds how often a caller reruns a shared download
	// that another caller's cancellation cut short.
	maxSharedRetries = 3
)

type (
	// Options configures a Resolver.
	Options struct {
		// Dir is the shared directory jars are installed into.
		Dir string
		// DefaultRepositories are tried after the repositories a request declares.
		DefaultRepositories []Repository
		// Exclude lists "group:artifact" globs never resolved transitively,
		// typically libraries the host already provides.
		Exclude []string

		Timeout              time.Duration
		Retries              int
		RetryInterval        time.Duration
		MaxConcurrentFetches int
		UserAgent            string
		Logger               *slog.Logger
	}

	// Request is the dependency directives of one script.
	Request struct {
		Dependencies []string
		Repositories []string
		Relocations  []Relocation
		// BaseDir resolves relative jar paths.
		BaseDir string
		// DirectOnly skips transitive dependencies.
		DirectOnly bool
	}

	// Artifact is a jar placed on the classpath.
	Artifact struct {
		// Coordinate is zero for jars declared by path.
		Coordinate Coordinate
		Path       string
		Repository Repository
		Relocated  bool
		Direct     bool
	}

	// Warning records a declaration that could not be resolved.
	Warning struct {
		Subject string
		Err     error
	}

	// Result is the outcome of a resolution. Direct artifacts come first in
	// declaration order, followed by transitive ones ordered by coordinate.
	Result struct {
		Artifacts []Artifact
		Warnings  []Warning
	}

	// UnresolvedError is returned when no repository serves a file.
	UnresolvedError struct {
		Path  string
		Tried []Repository
		Cause error
	}

	// Resolver resolves requests against remote repositories and a shared
	// install directory. It is safe for concurrent use; concurrent requests
	// for the same coordinate searching the same repositories share a single
	// download.
	Resolver struct {
		opts   Options
		store  *store
		fetch  *fetcher
		flight singleflight.Group
		logger *slog.Logger
	}

	resolveJob struct {
		r           *Resolver
		ctx         context.Context
		relocator   *relocator
		fingerprint string
		directOnly  bool

		mu         sync.Mutex
		visited    map[string]struct{}
		transitive []Artifact
		warnings   []Warning
	}

	pomResult struct {
		pom  *pom
		repo Repository
	}
)

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Subject, w.Err)
}

func (e *UnresolvedError) Error() string {
	tried := make([]string, len(e.Tried))
	for i, r := range e.Tried {
		tried[i] = r.String()
	}
	msg := fmt.Sprintf("%s not found in any repository (tried %s)", e.Path, strings.Join(tried, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnresolvedError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrNotFound
}

// Classpath returns the artifact paths in order.
func (r *Result) Classpath() []string {
	out := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		out[i] = a.Path
	}
	return out
}

// New returns a Resolver installing into opts.Dir.
func New(opts Options) (*Resolver, error) {
	if opts.Dir == "" {
		return nil, errors.New("dependency directory is required")
	}
	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve dependency directory: %w", err)
	}
	opts.Dir = abs
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = defaultMaxConcurrentFetches
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Resolver{
		opts:   opts,
		store:  &store{dir: abs},
		fetch:  newFetcher(opts),
		logger: opts.Logger,
	}, nil
}

// Dir returns the install directory.
func (r *Resolver) Dir() string { return r.opts.Dir }

// Close releases the HTTP client.
func (r *Resolver) Close() error {
	return r.fetch.close()
}

// Resolve turns a request into local jar files. Failures of individual
// declarations are reported as warnings; the returned error is non-nil only
// when ctx is done.
//
// With relocation rules, every coordinate is selected in its relocated
// form; without, in its plain form. The two forms are never mixed on one
// classpath.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	job := &resolveJob{
		r:          r,
		ctx:        ctx,
		directOnly: req.DirectOnly,
		visited:    make(map[string]struct{}),
	}
	if len(req.Relocations) > 0 {
		job.relocator = newRelocator(req.Relocations)
		job.fingerprint = Fingerprint(req.Relocations)
	}

	repos := job.candidateRepositories(req.Repositories)

	type slot struct {
		file  *Artifact
		coord Coordinate
	}
	var slots []slot
	for _, raw := range req.Dependencies {
		decl, err := ParseDeclaration(raw, req.BaseDir)
		if err != nil {
			job.warn(raw, err)
			continue
		}
		if decl.IsFile() {
			if !r.store.exists(decl.File) {
				job.warn(raw, fmt.Errorf("jar %s: %w", decl.File, os.ErrNotExist))
				continue
			}
			slots = append(slots, slot{file: &Artifact{Path: decl.File, Direct: true}})
			continue
		}
		if job.claim(decl.Coordinate) {
			slots = append(slots, slot{coord: decl.Coordinate})
		}
	}

	direct := make([]*Artifact, len(slots))
	var wg conc.WaitGroup
	for i, s := range slots {
		if s.file != nil {
			direct[i] = s.file
			continue
		}
		wg.Go(func() {
			direct[i] = job.resolve(s.coord, repos, true)
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Warnings: job.warnings}
	for _, a := range direct {
		if a != nil {
			res.Artifacts = append(res.Artifacts, *a)
		}
	}
	slices.SortFunc(job.transitive, func(a, b Artifact) int {
		return strings.Compare(a.Coordinate.Key(), b.Coordinate.Key())
	})
	res.Artifacts = append(res.Artifacts, job.transitive...)
	slices.SortStableFunc(res.Warnings, func(a, b Warning) int {
		return strings.Compare(a.Subject, b.Subject)
	})
	return res, nil
}

func (j *resolveJob) candidateRepositories(declared []string) []Repository {
	var out []Repository
	add := func(repo Repository) {
		repo = repo.Normalize()
		if !slices.Contains(out, repo) {
			out = append(out, repo)
		}
	}
	for _, raw := range declared {
		repo := Repository(raw)
		if err := repo.Validate(); err != nil {
			j.warn(raw, err)
			continue
		}
		add(repo)
	}
	for _, repo := range j.r.opts.DefaultRepositories {
		add(repo)
	}
	return out
}

// claim marks c visited and reports whether the caller owns its resolution.
func (j *resolveJob) claim(c Coordinate) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.visited[c.Key()]; ok {
		return false
	}
	j.visited[c.Key()] = struct{}{}
	return true
}

func (j *resolveJob) warn(subject string, err error) {
	j.r.logger.Warn("dependency unresolved", "dependency", subject, "error", err)
	j.mu.Lock()
	j.warnings = append(j.warnings, Warning{Subject: subject, Err: err})
	j.mu.Unlock()
}

func (j *resolveJob) resolve(c Coordinate, repos []Repository, direct bool) *Artifact {
	p, repo, err := j.loadPOM(c, repos)
	if err != nil {
		j.warn(c.Key(), err)
		return nil
	}

	var art *Artifact
	if p.hasJar() {
		path, relocated, err := j.ensureJar(c, repo, repos)
		if err != nil {
			j.warn(c.Key(), err)
		} else {
			art = &Artifact{Coordinate: c, Path: path, Repository: repo, Relocated: relocated, Direct: direct}
		}
	}

	if !j.directOnly {
		children := p.dependencies(c, j.r.opts.Exclude)
		childRepos := slices.Clone(repos)
		for _, extra := range p.repositories() {
			if !slices.Contains(childRepos, extra) {
				childRepos = append(childRepos, extra)
			}
		}

		var wg conc.WaitGroup
		for _, child := range children {
			if !j.claim(child) {
				continue
			}
			wg.Go(func() {
				if a := j.resolve(child, childRepos, false); a != nil {
					j.mu.Lock()
					j.transitive = append(j.transitive, *a)
					j.mu.Unlock()
				}
			})
		}
		wg.Wait()
	}
	return art
}

func (j *resolveJob) loadPOM(c Coordinate, repos []Repository) (*pom, Repository, error) {
	cached := j.r.store.pomPath(c)
	if data, err := os.ReadFile(cached); err == nil {
		if p, err := parsePOM(data); err == nil {
			return p, j.r.store.sourceOf(c.Key()), nil
		}
	}

	v, err := j.shared("pom:"+c.Key()+"@"+repoKey(repos), func() (any, error) {
		data, repo, err := j.r.fetchFirst(j.ctx, c.POMPath(), repos)
		if err != nil {
			return nil, err
		}
		p, err := parsePOM(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", repo.URL(c.POMPath()), err)
		}
		installMu.Lock()
		installErr := j.r.store.install(cached, data)
		installMu.Unlock()
		if installErr != nil {
			j.r.logger.Warn("pom not cached", "dependency", c.Key(), "error", installErr)
		}
		return pomResult{pom: p, repo: repo}, nil
	})
	if err != nil {
		return nil, "", err
	}
	pr := v.(pomResult)
	return pr.pom, pr.repo, nil
}

// ensureJar installs the plain jar and, when the job relocates, its
// relocated variant. It returns the path selected for the classpath.
func (j *resolveJob) ensureJar(c Coordinate, source Repository, repos []Repository) (string, bool, error) {
	plain := j.r.store.path(c.FileName())
	if !j.r.store.exists(plain) {
		order := repos
		if source != "" {
			order = append([]Repository{source}, slices.DeleteFunc(slices.Clone(repos), func(r Repository) bool { return r == source })...)
		}
		_, err := j.shared("jar:"+c.Key()+"@"+repoKey(order), func() (any, error) {
			if j.r.store.exists(plain) {
				return nil, nil
			}
			data, repo, err := j.r.fetchFirst(j.ctx, c.JarPath(), order)
			if err != nil {
				return nil, err
			}

			installMu.Lock()
			defer installMu.Unlock()
			if j.r.store.exists(plain) {
				return nil, nil
			}
			if err := j.r.store.install(plain, data); err != nil {
				return nil, err
			}
			if err := j.r.store.record(c.Key(), repo, c.FileName(), data); err != nil {
				j.r.logger.Warn("dependency manifest not updated", "dependency", c.Key(), "error", err)
			}
			j.r.logger.Info("dependency installed", "dependency", c.Key(), "repository", repo.String(), "size", len(data))
			return nil, nil
		})
		if err != nil {
			return "", false, err
		}
	}

	if j.relocator == nil {
		return plain, false, nil
	}

	relocated := j.r.store.path(c.RelocatedFileName(j.fingerprint))
	if !j.r.store.exists(relocated) {
		_, err, _ := j.r.flight.Do("relocate:"+j.fingerprint+":"+c.Key(), func() (any, error) {
			if j.r.store.exists(relocated) {
				return nil, nil
			}
			data, err := os.ReadFile(plain)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", plain, err)
			}
			out, err := j.relocator.relocateJar(data)
			if err != nil {
				return nil, fmt.Errorf("relocate %s: %w", c.Key(), err)
			}
			installMu.Lock()
			defer installMu.Unlock()
			if j.r.store.exists(relocated) {
				return nil, nil
			}
			return nil, j.r.store.install(relocated, out)
		})
		if err != nil {
			return "", false, err
		}
	}
	return relocated, true, nil
}

// shared runs fn once among concurrent callers of key. The winning caller's
// context governs the run, so a caller whose own context is still live
// reruns it when the shared run ended in another caller's cancellation.
func (j *resolveJob) shared(key string, fn func() (any, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		v, err, _ := j.r.flight.Do(key, fn)
		if err == nil || j.ctx.Err() != nil || attempt == maxSharedRetries {
			return v, err
		}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return v, err
		}
	}
}

// repoKey identifies a repository search order. Callers with different
// orders never share a download, so each one's own repositories are tried.
func repoKey(repos []Repository) string {
	parts := make([]string, len(repos))
	for i, r := range repos {
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

// fetchFirst downloads rel from the first repository that has it. A
// repository that lacks the file is skipped silently; other failures are
// kept and reported only if no repository succeeds.
func (r *Resolver) fetchFirst(ctx context.Context, rel string, repos []Repository) ([]byte, Repository, error) {
	var errs []error
	for _, repo := range repos {
		data, err := r.fetch.get(ctx, repo.URL(rel))
		if err == nil {
			r.logger.Debug("fetched", "url", repo.URL(rel), "bytes", len(data))
			return data, repo, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return nil, "", &UnresolvedError{Path: rel, Tried: repos, Cause: errors.Join(errs...)}
}
