// Package pkgmgr installs OS packages the database depends on.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/dbguest/internal/executor"
)

// Manager checks for and installs OS packages.
type Manager interface {
	IsInstalled(ctx context.Context, packages []string) (bool, error)
	Install(ctx context.Context, packages []string, timeout time.Duration) error
}

// Apt manages packages with dpkg-query and apt-get.
type Apt struct {
	Runner executor.Runner
	// QueryTimeout bounds each dpkg-query call.
	QueryTimeout time.Duration
}

func NewApt(r executor.Runner) *Apt { return &Apt{Runner: r, QueryTimeout: 30 * time.Second} }

// IsInstalled reports whether every package is installed. An empty list is
// trivially installed.
func (a *Apt) IsInstalled(ctx context.Context, packages []string) (bool, error) {
	for _, p := range packages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		c := executor.Command{Argv: []string{"dpkg-query", "-W", "-f=${Status}", p}, Timeout: a.QueryTimeout}
		res, err := a.Runner.Run(ctx, c)
		if err != nil {
			// dpkg-query exits 1 for unknown packages.
			var ee *executor.ExecutionError
			if errors.As(err, &ee) && ee.ExitCode == 1 {
				return false, nil
			}
			return false, fmt.Errorf("query package %s: %w", p, err)
		}
		if !strings.Contains(res.Stdout, "install ok installed") {
			slog.Debug("Package not installed", "package", p, "status", strings.TrimSpace(res.Stdout))
			return false, nil
		}
	}
	return true, nil
}

// Install installs packages non-interactively. Entries ending in .deb are
// installed from the local file with dpkg.
func (a *Apt) Install(ctx context.Context, packages []string, timeout time.Duration) error {
	var names, debs []string
	for _, p := range packages {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasSuffix(p, ".deb"):
			debs = append(debs, p)
		default:
			names = append(names, p)
		}
	}
	if len(names) == 0 && len(debs) == 0 {
		return nil
	}
	slog.Info("Installing packages", "packages", names, "debs", debs, "timeout", timeout)
	if len(debs) > 0 {
		argv := append([]string{"dpkg", "-i"}, debs...)
		if _, err := a.Runner.Run(ctx, executor.AsRoot(argv...).WithTimeout(timeout)); err != nil {
			return fmt.Errorf("install %s: %w", strings.Join(debs, " "), err)
		}
	}
	if len(names) > 0 {
		argv := append([]string{"apt-get", "install", "-y", "--no-install-recommends"}, names...)
		c := executor.AsRoot(argv...).WithEnv("DEBIAN_FRONTEND=noninteractive").WithTimeout(timeout)
		if _, err := a.Runner.Run(ctx, c); err != nil {
			return fmt.Errorf("install %s: %w", strings.Join(names, " "), err)
		}
	}
	return nil
}
