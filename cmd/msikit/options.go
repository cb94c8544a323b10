package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/kolide/kit/version"
	"github.com/kolide/msikit/pkg/builder"
	"github.com/kolide/msikit/pkg/msidb"
	"github.com/kolide/msikit/pkg/msidb/msitools"
	"github.com/kolide/msikit/pkg/msidb/sqlite"
	"github.com/kolide/msikit/pkg/wixmodel"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
)

// options is the set of configurable options that may be set when running
// this program
type options struct {
	manifest    string
	output      string
	xmlOnly     bool
	stdout      bool
	encoding    string
	dialect     wixmodel.Dialect
	backend     string
	msibuild    string
	dockerImage string
	keepStaging bool
	hashWorkers int
	hashCache   string

	debug        bool
	printVersion bool
}

// parseOptions parses the options that may be configured via command-line
// flags, environment variables or a config file, and returns a typed struct
// of options. The manifest may be given as the only positional argument.
func parseOptions(args []string) (*options, error) {
	flagset := flag.NewFlagSet("msikit", flag.ContinueOnError)
	flagset.Usage = usageFor(flagset)

	var (
		flManifest = flagset.String(
			"manifest",
			"",
			"Path to the JSON or YAML manifest",
		)
		flOutput = flagset.String(
			"output",
			"",
			"Output path, overriding _OutputName and _OutputDir",
		)
		flXMLOnly = flagset.Bool(
			"xml_only",
			false,
			"Write WiX source instead of an installer",
		)
		flStdout = flagset.Bool(
			"stdout",
			false,
			"Write the WiX source to stdout. With -xml_only and no output name nothing is written to disk",
		)
		flEncoding = flagset.String(
			"encoding",
			"utf-8",
			"Character encoding of the WiX source",
		)
		flDialect = flagset.String(
			"dialect",
			"wix",
			"WiX source dialect, wix or wixl",
		)
		flBackend = flagset.String(
			"backend",
			"msitools",
			"Database backend, msitools or sqlite",
		)
		flMsibuild = flagset.String(
			"msibuild",
			"",
			"Path for the msibuild binary. Will attempt auto detection",
		)
		flDockerImage = flagset.String(
			"docker_image",
			"",
			"Run msibuild inside this docker image",
		)
		flKeepStaging = flagset.Bool(
			"keep_staging",
			false,
			"Keep the msibuild staging directory for debugging",
		)
		flHashWorkers = flagset.Int(
			"hash_workers",
			runtime.NumCPU(),
			"Number of files hashed concurrently",
		)
		flHashCache = flagset.String(
			"hash_cache",
			"",
			"Path of a database caching file hashes between builds",
		)
		flDebug = flagset.Bool(
			"debug",
			false,
			"Use a debug logger",
		)
		flVersion = flagset.Bool(
			"version",
			false,
			"Print msikit version and exit",
		)
		_ = flagset.String("config", "", "Config file to parse options from (optional)")
	)

	ffOpts := []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("MSIKIT"),
	}

	if err := ff.Parse(flagset, args, ffOpts...); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}

	opts := &options{
		manifest:     *flManifest,
		output:       *flOutput,
		xmlOnly:      *flXMLOnly,
		stdout:       *flStdout,
		encoding:     *flEncoding,
		backend:      *flBackend,
		msibuild:     *flMsibuild,
		dockerImage:  *flDockerImage,
		keepStaging:  *flKeepStaging,
		hashWorkers:  *flHashWorkers,
		hashCache:    *flHashCache,
		debug:        *flDebug,
		printVersion: *flVersion,
	}

	if opts.printVersion {
		return opts, nil
	}

	switch rest := flagset.Args(); {
	case len(rest) > 1:
		return nil, errors.Errorf("expected one manifest, got %d arguments", len(rest))
	case len(rest) == 1 && opts.manifest != "":
		return nil, errors.New("manifest given both as -manifest and as an argument")
	case len(rest) == 1:
		opts.manifest = rest[0]
	}
	if opts.manifest == "" {
		return nil, errors.New("no manifest given")
	}

	dialect, err := wixmodel.ParseDialect(*flDialect)
	if err != nil {
		return nil, err
	}
	opts.dialect = dialect

	switch opts.backend {
	case "msitools", "sqlite":
	default:
		return nil, errors.Errorf("unknown backend %q", opts.backend)
	}

	return opts, nil
}

// builderOptions translates the command line into build options. stdout
// receives the WiX source when -stdout is set.
func (o *options) builderOptions(stdout io.Writer) []builder.Option {
	opts := []builder.Option{
		builder.WithXMLEncoding(o.encoding),
		builder.WithDialect(o.dialect),
		builder.WithHashWorkers(o.hashWorkers),
		builder.WithBackend(o.openBackend()),
		builder.WithGenerator("msikit " + version.Version().Version),
	}
	if o.output != "" {
		opts = append(opts, builder.WithOutput(o.output))
	}
	if o.xmlOnly {
		opts = append(opts, builder.XMLOnly())
	}
	if o.stdout {
		opts = append(opts, builder.WithXMLWriter(stdout))
	}
	if o.hashCache != "" {
		opts = append(opts, builder.WithHashCache(o.hashCache))
	}
	return opts
}

func (o *options) openBackend() msidb.Opener {
	if o.backend == "sqlite" {
		return sqlite.New()
	}

	var opts []msitools.Opt
	if o.msibuild != "" {
		opts = append(opts, msitools.WithMsibuild(o.msibuild))
	}
	if o.dockerImage != "" {
		opts = append(opts, msitools.WithDocker(o.dockerImage))
	}
	if o.keepStaging {
		opts = append(opts, msitools.KeepStaging())
	}
	return msitools.New(opts...)
}

func usageFor(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  msikit [flags] <manifest>\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}
