// Package filehash computes the MD5 digests Windows Installer stores in
// the MsiFileHash table, hashing files on a bounded pool of workers.
package filehash

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"
)

// Hash is an MD5 digest split into the four signed little endian
// words of an MsiFileHash row.
type Hash [4]int32

// FromDigest splits a 16 byte MD5 digest.
func FromDigest(sum [md5.Size]byte) Hash {
	var h Hash
	for i := range h {
		h[i] = int32(binary.LittleEndian.Uint32(sum[i*4:]))
	}
	return h
}

// Sum hashes a single file.
func Sum(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, errors.Wrap(err, "opening file to hash")
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return Hash{}, errors.Wrapf(err, "hashing %s", path)
	}

	var sum [md5.Size]byte
	copy(sum[:], h.Sum(nil))
	return FromDigest(sum), nil
}

type Hasher struct {
	workers int
	cache   *Cache
}

type Opt func(*Hasher)

// WithWorkers bounds the number of files hashed at once. Values below
// one mean one.
func WithWorkers(n int) Opt {
	return func(h *Hasher) {
		h.workers = n
	}
}

// WithCache reuses digests of files whose size and modification time
// have not changed since they were last hashed.
func WithCache(c *Cache) Opt {
	return func(h *Hasher) {
		h.cache = c
	}
}

func New(opts ...Opt) *Hasher {
	h := &Hasher{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(h)
	}
	if h.workers < 1 {
		h.workers = 1
	}
	return h
}

// HashFiles hashes every path. Results are in the order of paths.
func (h *Hasher) HashFiles(ctx context.Context, paths []string) ([]Hash, error) {
	ctx, span := trace.StartSpan(ctx, "filehash.HashFiles")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	results := make([]Hash, len(paths))
	infos := make([]os.FileInfo, len(paths))
	fresh := make([]bool, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)

	for i := range paths {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			abs, err := filepath.Abs(paths[i])
			if err != nil {
				return errors.Wrapf(err, "resolving %s", paths[i])
			}
			info, err := os.Stat(abs)
			if err != nil {
				return errors.Wrap(err, "stat file to hash")
			}
			infos[i] = info

			if hash, ok := h.cache.lookup(abs, info); ok {
				results[i] = hash
				return nil
			}

			hash, err := Sum(abs)
			if err != nil {
				return err
			}
			results[i] = hash
			fresh[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	hashed := 0
	for _, f := range fresh {
		if f {
			hashed++
		}
	}

	level.Debug(logger).Log(
		"msg", "hashed files",
		"files", len(paths),
		"hashed", hashed,
		"cached", len(paths)-hashed,
		"workers", h.workers,
	)

	if h.cache != nil && hashed > 0 {
		if err := h.cache.store(paths, infos, results, fresh); err != nil {
			level.Info(logger).Log("msg", "could not update hash cache", "err", err)
		}
	}

	return results, nil
}
