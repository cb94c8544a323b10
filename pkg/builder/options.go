package builder

import (
	"io"
	"time"

	"github.com/kolide/msikit/pkg/msidb"
	"github.com/kolide/msikit/pkg/wixmodel"
)

type options struct {
	output      string
	xmlOnly     bool
	xmlWriter   io.Writer
	xmlEncoding string
	dialect     wixmodel.Dialect
	backend     msidb.Opener
	hashWorkers int
	hashCache   string
	generator   string
	now         func() time.Time
}

type Option func(*options)

// WithOutput overrides the output path. The extension is appended if
// missing. Without a directory the file goes to the working directory.
func WithOutput(path string) Option {
	return func(o *options) {
		o.output = path
	}
}

// XMLOnly writes the WiX source instead of an installer.
func XMLOnly() Option {
	return func(o *options) {
		o.xmlOnly = true
	}
}

// WithXMLWriter sends the WiX source to w. With XMLOnly and neither an
// explicit output nor _OutputName nothing is written to disk. When building an
// installer the source is written to w after the database is
// committed.
func WithXMLWriter(w io.Writer) Option {
	return func(o *options) {
		o.xmlWriter = w
	}
}

func WithXMLEncoding(name string) Option {
	return func(o *options) {
		o.xmlEncoding = name
	}
}

func WithDialect(d wixmodel.Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithBackend sets the database engine. The default runs msitools'
// msibuild.
func WithBackend(b msidb.Opener) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithHashWorkers bounds the number of files hashed concurrently.
func WithHashWorkers(n int) Option {
	return func(o *options) {
		o.hashWorkers = n
	}
}

// WithHashCache keeps file hashes in a bbolt database at path across
// builds.
func WithHashCache(path string) Option {
	return func(o *options) {
		o.hashCache = path
	}
}

// WithGenerator sets the tool name written in the WiX source comment.
func WithGenerator(name string) Option {
	return func(o *options) {
		o.generator = name
	}
}
