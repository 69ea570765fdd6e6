package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// The verb set below wraps Execute with the host's command dialect. Every
// verb carries a bounded per-call timeout and is safe to retry: creating
// something that already exists and destroying something already gone are
// both treated as success.

// CreateApp creates a named application on the remote host.
func (c *Client) CreateApp(ctx context.Context, name string) error {
	_, err := c.run(ctx, "apps:create", name)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// DestroyApp removes a named application and, by a documented property of
// the remote host, any database or cache services linked only to it. The
// client trusts that cascade and does not re-verify it. Destroying an
// absent application is a no-op.
func (c *Client) DestroyApp(ctx context.Context, name string) error {
	if !c.AppExists(ctx, name) {
		zap.S().Named("remote:destroy_app").Debugw("Application does not exist, skipping destroy", "app", name)
		return nil
	}
	_, err := c.run(ctx, "apps:destroy", name, "--force")
	return err
}

// AppExists reports whether a named application exists on the remote
// host. It never returns an error: any query failure reads as false,
// since callers use it purely to decide idempotent skips.
func (c *Client) AppExists(ctx context.Context, name string) bool {
	_, err := c.run(ctx, "apps:exists", name)
	return err == nil
}

// CreateDatabase provisions a postgres service.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	_, err := c.run(ctx, "postgres:create", name)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// LinkDatabase attaches a postgres service to an application.
func (c *Client) LinkDatabase(ctx context.Context, name, app string) error {
	_, err := c.run(ctx, "postgres:link", name, app)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// CreateCache provisions a redis service.
func (c *Client) CreateCache(ctx context.Context, name string) error {
	_, err := c.run(ctx, "redis:create", name)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// LinkCache attaches a redis service to an application.
func (c *Client) LinkCache(ctx context.Context, name, app string) error {
	_, err := c.run(ctx, "redis:link", name, app)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// SetConfig pushes environment variables to an application without
// restarting it. Keys are applied in sorted order so the resulting
// command line is deterministic.
func (c *Client) SetConfig(ctx context.Context, app string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"config:set", "--no-restart", app}
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, shellQuote(vars[k])))
	}

	_, err := c.run(ctx, args...)
	return err
}

// AddDomain registers a public domain for an application.
func (c *Client) AddDomain(ctx context.Context, app, domain string) error {
	_, err := c.run(ctx, "domains:add", app, domain)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// EnableTLS enables letsencrypt TLS termination for an application.
func (c *Client) EnableTLS(ctx context.Context, app string) error {
	_, err := c.run(ctx, "letsencrypt:enable", app)
	if isAlreadyApplied(err) {
		return nil
	}
	return err
}

// SetResourceLimits applies memory and/or cpu limits to an application.
// Empty values are left untouched on the remote side.
func (c *Client) SetResourceLimits(ctx context.Context, app, memory, cpu string) error {
	args := []string{"resource:limit"}
	if memory != "" {
		args = append(args, "--memory", memory)
	}
	if cpu != "" {
		args = append(args, "--cpu", cpu)
	}
	args = append(args, app)

	_, err := c.run(ctx, args...)
	return err
}

// StartApp starts an application's processes.
func (c *Client) StartApp(ctx context.Context, app string) error {
	_, err := c.run(ctx, "ps:start", app)
	return err
}

// StopApp stops an application's processes.
func (c *Client) StopApp(ctx context.Context, app string) error {
	_, err := c.run(ctx, "ps:stop", app)
	return err
}

// RestartApp restarts an application's processes.
func (c *Client) RestartApp(ctx context.Context, app string) error {
	_, err := c.run(ctx, "ps:restart", app)
	return err
}

// DeployImage deploys a container image to an application.
func (c *Client) DeployImage(ctx context.Context, app, image string) error {
	_, err := c.run(ctx, "git:from-image", app, image)
	return err
}

// AppURL returns the primary URL the remote host serves an application on.
func (c *Client) AppURL(ctx context.Context, app string) (string, error) {
	out, err := c.run(ctx, "url", app)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// run executes one prefixed command with the per-call timeout applied.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := c.cfg.CommandPrefix + " " + strings.Join(args, " ")
	return c.runner(timeoutCtx, command)
}

// shellQuote wraps a value in single quotes so it survives the remote
// shell unmodified.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// isAlreadyApplied reports whether a command failed only because its
// effect is already in place on the remote host.
func isAlreadyApplied(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	return strings.Contains(stderr, "already exists") ||
		strings.Contains(stderr, "already linked") ||
		strings.Contains(stderr, "already enabled")
}
