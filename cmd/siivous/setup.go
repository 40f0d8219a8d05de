package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/internal/executor"
	"github.com/yairfalse/siivous/internal/filter"
	"github.com/yairfalse/siivous/internal/journal"
	"github.com/yairfalse/siivous/internal/notify"
	"github.com/yairfalse/siivous/internal/plugin"
	awsplugin "github.com/yairfalse/siivous/internal/plugin/aws"
	azureplugin "github.com/yairfalse/siivous/internal/plugin/azure"
	"github.com/yairfalse/siivous/internal/policy"
	"github.com/yairfalse/siivous/internal/report"
	"github.com/yairfalse/siivous/internal/sweep"
	"github.com/yairfalse/siivous/internal/telemetry"
	"github.com/yairfalse/siivous/pkg/resource"
)

// loadConfig reads the config file (or the defaults) and applies every
// flag the user set explicitly. Every failure is a *config.ConfigError.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	changed := cmd.Flags().Changed
	s := &cfg.Sweep
	if changed("dry-run") {
		s.DryRun = &dryRun
	}
	if changed("volumes-age-days") {
		s.VolumesAgeDays = &volumesAgeDays
	}
	if changed("snapshots-age-days") {
		s.SnapshotsAgeDays = &snapshotsAgeDays
	}
	if changed("instance-ttl-hours") {
		s.InstanceTTLHours = instanceTTLHours
	}
	if changed("concurrency") {
		s.Concurrency = concurrency
	}
	if changed("instance-action") {
		s.InstanceAction = instanceAction
	}
	if changed("scope") {
		s.Scopes = scopes
	}
	if changed("safe-words") {
		cfg.SetSafeWords(safeWords)
	}

	if _, err := report.ParseFormat(output); err != nil {
		return nil, &config.ConfigError{Field: "output", Err: err}
	}

	if len(cfg.AWS.Regions) == 0 && len(cfg.Azure.Subscriptions) == 0 {
		cfg.AWS.Regions, cfg.Azure.Subscriptions = scopeTargets(s.Scopes)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// scopeTargets returns the AWS regions and Azure subscriptions named
// explicitly in scope values, used when no config file lists any.
func scopeTargets(values []string) (regions, subscriptions []string) {
	sel, err := filter.ParseScopes(values)
	if err != nil || sel.All() {
		return nil, nil
	}
	for _, id := range sel.Unmatched(nil) {
		if region, ok := strings.CutPrefix(id, "aws/"); ok {
			regions = append(regions, region)
		} else if sub, ok := strings.CutPrefix(id, "azure/"); ok {
			subscriptions = append(subscriptions, sub)
		}
	}
	return regions, subscriptions
}

// app holds everything a sweep needs, built once per process.
type app struct {
	cfg       *config.Config
	plugins   []plugin.Plugin
	engine    *sweep.Engine
	telemetry *telemetry.Provider
	journal   *journal.Journal
	format    report.Format
}

// setup builds the sweep engine and one plugin per selected scope. Extra
// metric readers are attached to the telemetry provider.
func setup(ctx context.Context, cfg *config.Config, readers ...sdkmetric.Reader) (_ *app, err error) {
	a := &app{cfg: cfg}
	a.format, _ = report.ParseFormat(output)
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	tel, err := telemetry.NewProvider(ctx, cfg.OTEL, readers...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = tel

	pol, err := policy.New(cfg.Policy, cfg.Sweep.TagPrefix)
	if err != nil {
		return nil, &config.ConfigError{Field: "policy", Err: err}
	}
	if cfg.Policy.RegoPath != "" {
		rg, err := policy.LoadRego(ctx, cfg.Policy.RegoPath)
		if err != nil {
			return nil, &config.ConfigError{Field: "policy.rego_path", Err: err}
		}
		pol.WithRego(rg)
	}

	f, err := filter.New(cfg.Sweep.ExcludeKinds, cfg.Sweep.IncludeTags, cfg.Sweep.ExcludeTags)
	if err != nil {
		return nil, &config.ConfigError{Field: "sweep.exclude_kinds", Err: err}
	}

	sel, err := filter.ParseScopes(cfg.Sweep.Scopes)
	if err != nil {
		return nil, &config.ConfigError{Field: "sweep.scopes", Err: err}
	}

	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
	}

	if a.plugins, err = buildPlugins(ctx, cfg, sel); err != nil {
		return nil, err
	}

	n, err := buildNotifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exec := executor.New(executor.Options{
		DryRun:    cfg.Sweep.IsDryRun(),
		RateLimit: cfg.Sweep.RateLimit,
		Burst:     cfg.Sweep.Burst,
	}, a.journal, pol, tel)

	a.engine = sweep.New(sweep.OptionsFrom(cfg.Sweep), pol, exec).
		WithFilter(f).
		WithNotifier(n).
		WithJournal(a.journal).
		WithTelemetry(tel)

	return a, nil
}

// buildPlugins creates and registers a plugin for every configured region
// and subscription the selector matches.
func buildPlugins(ctx context.Context, cfg *config.Config, sel *filter.ScopeSelector) ([]plugin.Plugin, error) {
	plugin.Clear()
	var candidates []resource.Scope

	for _, region := range cfg.AWS.Regions {
		scope := resource.Scope{Provider: "aws", Region: region}
		candidates = append(candidates, scope)
		if !sel.Match(scope) {
			continue
		}
		p, err := awsplugin.New(ctx, awsplugin.Config{Region: region, Profile: cfg.AWS.Profile})
		if err != nil {
			return nil, fmt.Errorf("aws %s: %w", region, err)
		}
		plugin.Register(p)
	}

	for _, sub := range cfg.Azure.Subscriptions {
		scope := resource.Scope{Provider: "azure", Account: sub}
		candidates = append(candidates, scope)
		if !sel.Match(scope) {
			continue
		}
		p, err := azureplugin.New(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("azure %s: %w", sub, err)
		}
		plugin.Register(p)
	}

	if missing := sel.Unmatched(candidates); len(missing) > 0 {
		log.Warn().Strs("scopes", missing).Msg("selected scopes are not configured")
	}
	if len(plugin.Names()) == 0 {
		return nil, &config.ConfigError{Field: "sweep.scopes", Err: errors.New("no configured region or subscription matches the selected scopes")}
	}
	return plugin.All(), nil
}

func buildNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Kind {
	case "ses", "sns":
	default:
		return notify.New(cfg.Notify, aws.Config{})
	}

	region := cfg.Notify.Region
	if region == "" && len(cfg.AWS.Regions) > 0 {
		region = cfg.AWS.Regions[0]
	}
	awsCfg, err := awsplugin.LoadConfig(ctx, region, cfg.AWS.Profile)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return notify.New(cfg.Notify, awsCfg)
}

func (a *app) close(ctx context.Context) {
	if err := a.journal.Close(); err != nil {
		log.Warn().Err(err).Msg("close journal")
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown telemetry")
	}
}
