package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/steveyegge/gitswitch/internal/app"
	"github.com/steveyegge/gitswitch/internal/config"
	"github.com/steveyegge/gitswitch/internal/deviceflow"
	"github.com/steveyegge/gitswitch/internal/doctor"
	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/logging"
	"github.com/steveyegge/gitswitch/internal/profile"
	"github.com/steveyegge/gitswitch/internal/secret"
	"github.com/steveyegge/gitswitch/internal/style"
	"github.com/steveyegge/gitswitch/internal/switcher"
	"go.uber.org/zap"
)

// runtime is the object graph behind a command.
type runtime struct {
	cfgPath  string
	cfg      *config.Config
	logger   *zap.Logger
	secrets  secret.Store
	registry *profile.RegistryManager
	git      gitcfg.Config
	creds    gitcfg.Credentials
	switcher *switcher.Switcher
	app      *app.App
}

// newRuntime builds the runtime for cmd. Tests replace it.
var newRuntime = buildRuntime

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.Path()
}

func buildRuntime(cmd *cobra.Command) (*runtime, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), verbose)

	exec := gitcfg.NewExec()
	var git gitcfg.Config = exec
	if cfg.GitBackend == config.BackendFile {
		p, err := gitcfg.GlobalConfigPath()
		if err != nil {
			return nil, err
		}
		git = gitcfg.NewFile(p)
	}

	rt := assemble(path, cfg, logger, secret.NewKeyring(), git, exec)
	return rt, nil
}

// assemble wires the components from their backing stores.
func assemble(path string, cfg *config.Config, logger *zap.Logger, secrets secret.Store, git gitcfg.Config, creds gitcfg.Credentials, authOpts ...deviceflow.Option) *runtime {
	registry := profile.NewRegistryManager(cfg.RegistryPath, secrets,
		profile.WithService(cfg.KeyringService),
		profile.WithLogger(logger))

	sw := switcher.New(registry, git, creds, cfg.GitEndpoint(),
		switcher.WithCredentialHelper(cfg.CredentialHelper),
		switcher.WithLogger(logger))

	opts := append([]deviceflow.Option{
		deviceflow.WithMinInterval(cfg.MinPollInterval.Duration),
		deviceflow.WithLogger(logger),
	}, authOpts...)
	auth := deviceflow.New(cfg.Endpoints(), cfg.Scopes, opts...)

	return &runtime{
		cfgPath:  path,
		cfg:      cfg,
		logger:   logger,
		secrets:  secrets,
		registry: registry,
		git:      git,
		creds:    creds,
		switcher: sw,
		app: app.New(app.Deps{
			ClientID:    cfg.ClientID,
			Endpoint:    cfg.GitEndpoint(),
			Auth:        auth,
			Registry:    registry,
			Switcher:    sw,
			Config:      git,
			Credentials: creds,
			Logger:      logger,
		}),
	}
}

// profileRuntime builds the runtime and reconciles with the credential
// manager, as every profile command does before acting.
func profileRuntime(cmd *cobra.Command) (*runtime, error) {
	rt, err := newRuntime(cmd)
	if err != nil {
		return nil, err
	}
	res := rt.app.Startup(cmd.Context())
	switch {
	case !res.OK:
		rt.logger.Warn("reconciling with the credential manager failed", zap.String("kind", string(res.Kind)), zap.String("error", res.Message))
	case len(res.Value.Imported) > 0:
		for _, p := range res.Value.Imported {
			fmt.Fprintln(cmd.ErrOrStderr(), style.Successf("Imported %s from the credential manager", p.ID))
		}
	}
	return rt, nil
}

// checkContext exposes the runtime to doctor checks.
func (rt *runtime) checkContext(ctx context.Context) *doctor.CheckContext {
	return &doctor.CheckContext{
		Ctx:        ctx,
		Config:     rt.cfg,
		Registry:   rt.registry,
		Secrets:    rt.secrets,
		Git:        rt.git,
		Identities: rt.switcher,
		Reconcile: func(ctx context.Context) error {
			return rt.app.Reconcile(ctx).Err()
		},
	}
}

// resultError converts a failed facade result into a command error.
func resultError[T any](r app.Result[T]) error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%s", r.Message)
}
