// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/sourcegraph/conc"

	"github.com/stackbind/stackbind/internal/bus"
	"github.com/stackbind/stackbind/internal/cloud"
	"github.com/stackbind/stackbind/internal/config"
	"github.com/stackbind/stackbind/internal/detect"
	"github.com/stackbind/stackbind/internal/metadata"
	"github.com/stackbind/stackbind/internal/reconcile"
	"github.com/stackbind/stackbind/internal/supervisor"
)

var errMetadataSource = errors.New("metadata source unavailable")

type (
	// bindSession is the production SessionRunner. It wires the cloud
	// clients, metadata source, change feed and supervisor into a Reconciler.
	bindSession struct {
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer
	}

	// feed publishes change notifications until its context ends.
	feed interface {
		Run(ctx context.Context) error
	}
)

// Run implements SessionRunner.
func (s *bindSession) Run(ctx context.Context, req BindRequest) (int, error) {
	cfg := req.Config

	awsCfg, err := cloud.LoadConfig(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		return 1, err
	}
	region := cfg.Region
	if region == "" {
		region = awsCfg.Region
	}
	assembler, broker := cloud.NewFromConfig(awsCfg)

	source, err := newSource(ctx, cfg, region, awsCfg.Credentials)
	if err != nil {
		return 1, fmt.Errorf("%w: %w", errMetadataSource, err)
	}
	resolver := metadata.NewResolver(source, cfg.ProjectRoot)
	resolver.Waiter = newWaitIndicator(s.stderr)

	sup, err := supervisor.New(supervisor.Config{
		Argv:   req.Argv,
		Dir:    req.Dir,
		Stdin:  s.stdin,
		Stdout: s.stdout,
		Stderr: s.stderr,
	})
	if err != nil {
		return 1, err
	}

	r := reconcile.New(reconcile.Options{
		Dir:    req.Dir,
		App:    cfg.App,
		Stage:  cfg.Stage,
		Region: region,
		Site:   detect.IsSite(req.Dir),
		Script: req.Script,
		Local: reconcile.LocalConfig{
			Env:      cfg.Env,
			EnvFiles: cfg.EnvFiles,
			BaseDir:  cfg.ProjectRoot,
		},
	}, reconcile.Deps{
		Resolver:   resolver,
		Assembler:  assembler,
		Broker:     broker,
		Supervisor: sup,
		Reporter:   newStatusReporter(s.stderr),
	})

	events := bus.New()
	detach := reconcile.Attach(events, r)
	defer detach()

	f, closeFeed, err := newFeed(cfg, events)
	if err != nil {
		return 1, err
	}
	defer closeFeed()

	feedCtx, stopFeed := context.WithCancel(ctx)
	var wg conc.WaitGroup
	if f != nil {
		wg.Go(func() {
			if err := f.Run(feedCtx); err != nil && feedCtx.Err() == nil {
				slog.Warn("change notifications stopped", "transport", cfg.Bus.Transport, "error", err)
			}
		})
	}

	code, err := r.Run(ctx)
	stopFeed()
	wg.Wait()
	return code, err
}

// newSource builds the configured metadata source.
func newSource(ctx context.Context, cfg *config.Config, region string, creds aws.CredentialsProvider) (metadata.Source, error) {
	if cfg.Metadata.Source != config.MetadataSourceS3 {
		return metadata.NewDirSource(cfg.MetadataDir()), nil
	}

	endpoint, insecure, err := s3Endpoint(cfg.Metadata.Endpoint)
	if err != nil {
		return nil, err
	}
	s3cfg := metadata.S3Config{
		Endpoint: endpoint,
		Bucket:   cfg.Metadata.Bucket,
		Prefix:   cfg.Metadata.Prefix,
		Region:   region,
		App:      cfg.App,
		Stage:    cfg.Stage,
		Insecure: insecure,
	}
	if creds != nil {
		v, err := creds.Retrieve(ctx)
		if err != nil {
			return nil, fmt.Errorf("retrieve credentials for the metadata bucket: %w", err)
		}
		s3cfg.AccessKeyID, s3cfg.SecretAccessKey, s3cfg.SessionToken = v.AccessKeyID, v.SecretAccessKey, v.SessionToken
	}
	return metadata.NewS3Source(s3cfg)
}

// s3Endpoint splits an endpoint URL into the host form the S3 client takes
// and whether TLS is off. A bare host is returned as is.
func s3Endpoint(raw string) (host string, insecure bool, err error) {
	if raw == "" || !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse metadata endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, true, nil
	case "https":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("metadata endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// newFeed builds the configured change feed. It returns a nil feed for the
// "none" transport.
func newFeed(cfg *config.Config, events *bus.Bus) (feed, func(), error) {
	noop := func() {}
	switch cfg.Bus.Transport {
	case config.BusTransportWatch:
		return &bus.DirFeed{Dir: cfg.MetadataDir(), Bus: events}, noop, nil
	case config.BusTransportRedis:
		client, err := bus.Connect(cfg.Bus.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				slog.Debug("close redis client", "error", err)
			}
		}
		return &bus.RedisFeed{Client: client, Prefix: cfg.Bus.ChannelPrefix, Bus: events}, closeClient, nil
	default:
		return nil, noop, nil
	}
}
