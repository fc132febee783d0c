package pkgfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
	"github.com/thoreinstein/capstan/pkg/fileutil"
)

// Reader provides access to a package artifact: its validated manifest and
// per-entry decompressed content streams. Entry streams are lazy; peak
// memory is bounded by one decompressor window regardless of package size.
type Reader struct {
	f           *os.File
	man         *manifest.Manifest
	payloadBase int64
}

// Open validates the artifact's header and manifest and returns a Reader.
// Returns ErrCorruptPackage when the magic, checksum or manifest is invalid.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening package")
	}

	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptPackage, "truncated header")
	}

	if !bytes.Equal(header[:4], Magic[:]) {
		return nil, errors.Wrap(errors.ErrCorruptPackage, "bad magic")
	}
	if v := byteOrder.Uint16(header[4:6]); v != Format {
		return nil, errors.Wrapf(errors.ErrCorruptPackage, "unsupported format version %d", v)
	}

	manLen := byteOrder.Uint32(header[6:10])
	if manLen == 0 || manLen > fileutil.MaxManifestSize {
		return nil, errors.Wrapf(errors.ErrCorruptPackage, "implausible manifest length %d", manLen)
	}
	wantSum := header[10:headerSize]

	manData := make([]byte, manLen)
	if _, err := io.ReadFull(f, manData); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptPackage, "truncated manifest")
	}
	gotSum := sha256.Sum256(manData)
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, errors.Wrap(errors.ErrCorruptPackage, "manifest checksum mismatch")
	}

	var man manifest.Manifest
	if err := json.Unmarshal(manData, &man); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptPackage, "undecodable manifest")
	}
	if err := man.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrCorruptPackage, "invalid manifest: %v", err)
	}

	return &Reader{
		f:           f,
		man:         &man,
		payloadBase: int64(headerSize) + int64(manLen),
	}, nil
}

// Manifest returns the package's validated manifest.
func (r *Reader) Manifest() *manifest.Manifest {
	return r.man
}

// EntryReader returns a decompressed content stream for one entry, located
// via its recorded payload offset. Safe for concurrent use across entries:
// each stream reads through its own section reader.
func (r *Reader) EntryReader(e manifest.FileEntry) (io.ReadCloser, error) {
	section := io.NewSectionReader(r.f, r.payloadBase+e.Offset, e.CompressedSize)
	dec, err := zstd.NewReader(section)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCorruptPackage, "entry %s: %v", e.Path, err)
	}
	return &entryStream{dec: dec, limit: e.Size}, nil
}

// Entries invokes fn for each manifest file entry in order, paired with its
// decompressed content stream. The stream is only valid for the duration of
// the callback; iteration stops at the first error.
func (r *Reader) Entries(fn func(manifest.FileEntry, io.Reader) error) error {
	for _, e := range r.man.Files {
		stream, err := r.EntryReader(e)
		if err != nil {
			return err
		}
		err = fn(e, stream)
		stream.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return errors.Wrap(r.f.Close(), "closing package")
}

// entryStream bounds a decompressed stream to the manifest-declared size and
// owns the decoder's lifetime.
type entryStream struct {
	dec   *zstd.Decoder
	limit int64
	read  int64
}

func (s *entryStream) Read(p []byte) (int, error) {
	if s.read >= s.limit {
		return 0, io.EOF
	}
	if remain := s.limit - s.read; int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := s.dec.Read(p)
	s.read += int64(n)
	return n, err
}

func (s *entryStream) Close() error {
	s.dec.Close()
	return nil
}
