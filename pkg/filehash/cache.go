package filehash

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const bucketName = "filehash"

// entry layout: size, mtime in unix nanoseconds, then the four words.
const entrySize = 8 + 8 + 4*4

// Cache persists digests between builds in a bbolt database, keyed by
// absolute path. An entry is only used while the file's size and
// modification time match.
type Cache struct {
	db *bbolt.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening hash cache %s", path)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating hash cache bucket")
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) lookup(abs string, info os.FileInfo) (Hash, bool) {
	if c == nil || c.db == nil {
		return Hash{}, false
	}

	var (
		hash Hash
		ok   bool
	)
	_ = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		hash, ok = decodeEntry(b.Get([]byte(abs)), info)
		return nil
	})
	return hash, ok
}

// store writes the freshly computed digests in a single transaction.
func (c *Cache) store(paths []string, infos []os.FileInfo, hashes []Hash, fresh []bool) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errors.Errorf("%s bucket does not exist", bucketName)
		}

		for i := range paths {
			if !fresh[i] {
				continue
			}
			abs, err := filepath.Abs(paths[i])
			if err != nil {
				return err
			}
			if err := b.Put([]byte(abs), encodeEntry(infos[i], hashes[i])); err != nil {
				return errors.Wrapf(err, "caching hash of %s", abs)
			}
		}
		return nil
	})
}

func encodeEntry(info os.FileInfo, h Hash) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(info.Size()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(info.ModTime().UnixNano()))
	for i, w := range h {
		binary.LittleEndian.PutUint32(buf[16+i*4:], uint32(w))
	}
	return buf
}

func decodeEntry(buf []byte, info os.FileInfo) (Hash, bool) {
	if len(buf) != entrySize {
		return Hash{}, false
	}
	if int64(binary.LittleEndian.Uint64(buf[0:])) != info.Size() {
		return Hash{}, false
	}
	if int64(binary.LittleEndian.Uint64(buf[8:])) != info.ModTime().UnixNano() {
		return Hash{}, false
	}

	var h Hash
	for i := range h {
		h[i] = int32(binary.LittleEndian.Uint32(buf[16+i*4:]))
	}
	return h, true
}
