package service

import "context"

// RemoteClient is the verb set the orchestrator needs from the remote
// command client. It is satisfied by *remote.Client; workflow tests
// substitute a fake host.
type RemoteClient interface {
	Close() error
	CreateApp(ctx context.Context, name string) error
	DestroyApp(ctx context.Context, name string) error
	AppExists(ctx context.Context, name string) bool
	CreateDatabase(ctx context.Context, name string) error
	LinkDatabase(ctx context.Context, name, app string) error
	CreateCache(ctx context.Context, name string) error
	LinkCache(ctx context.Context, name, app string) error
	SetConfig(ctx context.Context, app string, vars map[string]string) error
	AddDomain(ctx context.Context, app, domain string) error
	EnableTLS(ctx context.Context, app string) error
	SetResourceLimits(ctx context.Context, app, memory, cpu string) error
	StartApp(ctx context.Context, app string) error
	StopApp(ctx context.Context, app string) error
	RestartApp(ctx context.Context, app string) error
	DeployImage(ctx context.Context, app, image string) error
	AppURL(ctx context.Context, app string) (string, error)
}

// DialFunc produces a connected remote client owned by one workflow
// invocation. The workflow must Close the client on every exit path.
type DialFunc func(ctx context.Context) (RemoteClient, error)
