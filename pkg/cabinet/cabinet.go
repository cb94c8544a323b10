// Package cabinet writes Microsoft Cabinet (.cab) archives, the
// container MSI packages keep their payload in. Only what installers
// need is supported: a single folder, either stored or MSZIP
// compressed.
//
// https://learn.microsoft.com/en-us/previous-versions/bb417343(v=msdn.10)
package cabinet

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/klauspost/compress/flate"
	"github.com/kolide/msikit/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

type Compression uint16

const (
	None  Compression = 0
	MSZIP Compression = 1
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case MSZIP:
		return "mszip"
	}
	return "unknown"
}

const (
	headerSize = 36
	folderSize = 8

	// blockSize is the uncompressed size of every data block but the last.
	blockSize = 0x8000

	maxFolderSize = 0x7FFF8000
	maxFiles      = 0xFFFF

	attrArchive = 0x20
	attrUTF8    = 0x80
)

type entry struct {
	source string
	name   string
	size   int64
	mtime  time.Time
}

// Cabinet collects files and writes them out as a single archive.
type Cabinet struct {
	compression Compression
	entries     []entry
}

func New(compression Compression) *Cabinet {
	return &Cabinet{compression: compression}
}

// AddFile queues localPath to be stored as name. Files are stored in
// the order they are added.
func (c *Cabinet) AddFile(localPath, name string) {
	c.entries = append(c.entries, entry{source: localPath, name: name})
}

// Len returns the number of queued files.
func (c *Cabinet) Len() int { return len(c.entries) }

// WriteFile writes the archive to path. Sources are read once, in
// order. A source whose size changes while it is read is an error.
func (c *Cabinet) WriteFile(ctx context.Context, path string) error {
	ctx, span := trace.StartSpan(ctx, "cabinet.WriteFile")
	defer span.End()

	if len(c.entries) > maxFiles {
		return errors.Errorf("%d files, a cabinet holds at most %d", len(c.entries), maxFiles)
	}

	var total int64
	for i := range c.entries {
		info, err := os.Stat(c.entries[i].source)
		if err != nil {
			return errors.Wrap(err, "stat cabinet source")
		}
		if !info.Mode().IsRegular() {
			return errors.Errorf("%s is not a regular file", c.entries[i].source)
		}
		c.entries[i].size = info.Size()
		c.entries[i].mtime = info.ModTime()
		total += info.Size()
	}
	if total > maxFolderSize {
		return errors.Errorf("%d bytes of payload, a cabinet folder holds at most %d", total, maxFolderSize)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating cabinet")
	}
	defer f.Close()

	if err := c.write(ctx, f); err != nil {
		return err
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "wrote cabinet",
		"path", path,
		"files", len(c.entries),
		"bytes", total,
		"compression", c.compression,
	)

	return f.Close()
}

func (c *Cabinet) write(ctx context.Context, f io.WriteSeeker) error {
	// Header and folder are written with placeholder sizes and
	// patched once the data blocks are out.
	filesOffset := uint32(headerSize + folderSize)
	if err := c.writeHeader(f, 0, filesOffset); err != nil {
		return err
	}
	if err := writeFolder(f, 0, 0, c.compression); err != nil {
		return err
	}

	dataOffset := filesOffset
	var folderOffset uint32
	for _, e := range c.entries {
		n, err := writeFileEntry(f, e, folderOffset)
		if err != nil {
			return err
		}
		dataOffset += uint32(n)
		folderOffset += uint32(e.size)
	}

	blocks, err := c.writeData(ctx, f)
	if err != nil {
		return err
	}

	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "seek")
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek")
	}
	if err := c.writeHeader(f, uint32(end), filesOffset); err != nil {
		return err
	}
	if err := writeFolder(f, dataOffset, uint16(blocks), c.compression); err != nil {
		return err
	}

	if _, err := f.Seek(end, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek")
	}
	return nil
}

func (c *Cabinet) writeHeader(w io.Writer, size, filesOffset uint32) error {
	hdr := struct {
		Signature    [4]byte
		Reserved1    uint32
		Size         uint32
		Reserved2    uint32
		FilesOffset  uint32
		Reserved3    uint32
		VersionMinor uint8
		VersionMajor uint8
		Folders      uint16
		Files        uint16
		Flags        uint16
		SetID        uint16
		Index        uint16
	}{
		Signature:    [4]byte{'M', 'S', 'C', 'F'},
		Size:         size,
		FilesOffset:  filesOffset,
		VersionMinor: 3,
		VersionMajor: 1,
		Folders:      1,
		Files:        uint16(len(c.entries)),
	}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, hdr), "writing cabinet header")
}

func writeFolder(w io.Writer, dataOffset uint32, blocks uint16, compression Compression) error {
	folder := struct {
		DataOffset  uint32
		Blocks      uint16
		Compression uint16
	}{dataOffset, blocks, uint16(compression)}
	return errors.Wrap(binary.Write(w, binary.LittleEndian, folder), "writing cabinet folder")
}

// writeFileEntry writes a CFFILE record and returns its length.
func writeFileEntry(w io.Writer, e entry, folderOffset uint32) (int, error) {
	date, tm := dosTime(e.mtime)
	attrs := uint16(attrArchive)
	for _, r := range e.name {
		if r > 0x7f {
			attrs |= attrUTF8
			break
		}
	}

	rec := struct {
		Size         uint32
		FolderOffset uint32
		Folder       uint16
		Date         uint16
		Time         uint16
		Attributes   uint16
	}{uint32(e.size), folderOffset, 0, date, tm, attrs}

	if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
		return 0, errors.Wrap(err, "writing cabinet file entry")
	}
	if _, err := io.WriteString(w, e.name+"\x00"); err != nil {
		return 0, errors.Wrap(err, "writing cabinet file name")
	}
	return 16 + len(e.name) + 1, nil
}

// writeData streams every source through fixed size blocks, which
// may span file boundaries, and returns the number of blocks written.
func (c *Cabinet) writeData(ctx context.Context, w io.Writer) (int, error) {
	bw := &blockWriter{w: w, compression: c.compression}
	buf := make([]byte, 0, blockSize)

	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		src, err := os.Open(e.source)
		if err != nil {
			return 0, errors.Wrap(err, "opening cabinet source")
		}

		var read int64
		for {
			n, err := src.Read(buf[len(buf):cap(buf)])
			buf = buf[:len(buf)+n]
			read += int64(n)
			if len(buf) == cap(buf) {
				if err := bw.writeBlock(buf); err != nil {
					src.Close()
					return 0, err
				}
				buf = buf[:0]
				if err := ctx.Err(); err != nil {
					src.Close()
					return 0, err
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				src.Close()
				return 0, errors.Wrapf(err, "reading %s", e.source)
			}
		}
		src.Close()

		if read != e.size {
			return 0, errors.Errorf("%s changed size while packing: expected %d bytes, read %d", e.source, e.size, read)
		}
	}

	if len(buf) > 0 {
		if err := bw.writeBlock(buf); err != nil {
			return 0, err
		}
	}
	return bw.blocks, nil
}

type blockWriter struct {
	w           io.Writer
	compression Compression
	history     []byte
	blocks      int
	scratch     bytes.Buffer
}

func (bw *blockWriter) writeBlock(data []byte) error {
	payload := data
	if bw.compression == MSZIP {
		var err error
		payload, err = bw.mszip(data)
		if err != nil {
			return err
		}
	}

	hdr := struct {
		Checksum     uint32
		Compressed   uint16
		Uncompressed uint16
	}{0, uint16(len(payload)), uint16(len(data))}
	if err := binary.Write(bw.w, binary.LittleEndian, hdr); err != nil {
		return errors.Wrap(err, "writing cabinet data block")
	}
	if _, err := bw.w.Write(payload); err != nil {
		return errors.Wrap(err, "writing cabinet data block")
	}
	bw.blocks++
	return nil
}

// mszip compresses one block. Each block is a complete deflate stream
// prefixed with "CK", using the previous block as its dictionary.
func (bw *blockWriter) mszip(data []byte) ([]byte, error) {
	bw.scratch.Reset()
	bw.scratch.WriteString("CK")

	fw, err := flate.NewWriterDict(&bw.scratch, flate.DefaultCompression, bw.history)
	if err != nil {
		return nil, errors.Wrap(err, "creating deflate writer")
	}
	if _, err := fw.Write(data); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}

	bw.history = append(bw.history[:0], data...)
	return bw.scratch.Bytes(), nil
}

// dosTime converts t to the FAT date and time fields. Dates before
// 1980 clamp to 1980-01-01.
func dosTime(t time.Time) (uint16, uint16) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.Local)
	}
	date := uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	tm := uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return date, tm
}
