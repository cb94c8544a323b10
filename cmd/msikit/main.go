// Command msikit builds a Windows Installer package, or its WiX source,
// from a JSON or YAML manifest.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/logutil"
	"github.com/kolide/kit/version"
	"github.com/kolide/msikit/pkg/builder"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/kolide/msikit/pkg/manifest"
	"github.com/oklog/run"
	"github.com/pkg/errors"
)

func main() {
	opts, err := parseOptions(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger := logutil.NewCLILogger(true)
		logutil.Fatal(logger, "msg", "Error parsing flags", "err", err)
	}

	if opts.printVersion {
		version.PrintFull()
		return
	}

	logger := logutil.NewCLILogger(opts.debug)
	if err := runBuild(context.Background(), logger, opts); err != nil {
		logutil.Fatal(logger, "msg", "build failed", "err", err, "manifest", opts.manifest)
	}
}

// runBuild builds the manifest named by opts. The build is canceled when
// the process receives an interrupt.
func runBuild(ctx context.Context, logger log.Logger, opts *options) error {
	ctx, cancel := context.WithCancel(ctxlog.NewContext(ctx, logger))
	defer cancel()

	m, err := manifest.Load(opts.manifest)
	if err != nil {
		return err
	}

	var g run.Group

	sigListener := newSignalListener(make(chan os.Signal, 1), cancel, logger)
	g.Add(sigListener.Execute, sigListener.Interrupt)

	g.Add(func() error {
		res, err := builder.Build(ctx, m, opts.builderOptions(os.Stdout)...)
		if err != nil {
			return err
		}
		if res.Output != "" {
			level.Info(logger).Log("msg", "wrote output", "path", res.Output, "build_id", res.BuildID)
		}
		if res.Cabinet != "" {
			level.Info(logger).Log("msg", "wrote cabinet", "path", res.Cabinet)
		}
		return nil
	}, func(error) {
		cancel()
	})

	return g.Run()
}
