package pkgfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/thoreinstein/capstan/internal/errors"
	"github.com/thoreinstein/capstan/internal/manifest"
)

// Build packages the contents of srcDir into a .cpk artifact at outPath.
//
// The skeleton manifest provides product identity, components and actions;
// its file list is replaced by the files found under srcDir, walked in
// lexical order. Component membership is assigned via componentOf, which may
// be nil when the manifest has no components.
func Build(outPath, srcDir string, skeleton *manifest.Manifest, componentOf func(relPath string) string) error {
	man := *skeleton
	man.Format = manifest.FormatVersion
	man.Files = nil

	// Payloads are staged to a temp file first: entry offsets must be known
	// before the manifest that records them can be written.
	payload, err := os.CreateTemp(filepath.Dir(outPath), ".capstan-pack-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating payload temp file")
	}
	payloadName := payload.Name()
	defer func() {
		payload.Close()
		os.Remove(payloadName)
	}()

	// One encoder, Reset per entry; each entry is its own zstd frame.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return errors.Wrap(err, "creating zstd encoder")
	}

	var offset int64
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return errors.Wrap(err, "computing relative path")
		}
		rel = filepath.ToSlash(rel)

		entry, n, err := appendEntry(payload, enc, path, rel)
		if err != nil {
			return errors.Wrapf(err, "packing %s", rel)
		}
		entry.Offset = offset
		offset += n
		if componentOf != nil {
			entry.Component = componentOf(rel)
		}
		man.Files = append(man.Files, *entry)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := man.Validate(); err != nil {
		return err
	}

	manData, err := json.Marshal(&man)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	manSum := sha256.Sum256(manData)

	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "creating package file")
	}
	defer out.Close()

	header := make([]byte, 0, headerSize)
	header = append(header, Magic[:]...)
	header = byteOrder.AppendUint16(header, Format)
	header = byteOrder.AppendUint32(header, uint32(len(manData)))
	header = append(header, manSum[:]...)

	if _, err := out.Write(header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if _, err := out.Write(manData); err != nil {
		return errors.Wrap(err, "writing manifest")
	}

	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewinding payload")
	}
	if _, err := io.Copy(out, payload); err != nil {
		return errors.Wrap(err, "writing payload")
	}

	return errors.Wrap(out.Close(), "closing package file")
}

// appendEntry compresses one source file into the payload, returning its
// manifest entry (offset unset) and the frame's compressed length.
func appendEntry(payload io.Writer, enc *zstd.Encoder, path, rel string) (*manifest.FileEntry, int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, 0, err
	}

	var frame countingWriter
	frame.w = payload
	enc.Reset(&frame)

	hasher := sha256.New()
	if _, err := io.Copy(enc, io.TeeReader(in, hasher)); err != nil {
		return nil, 0, err
	}
	if err := enc.Close(); err != nil {
		return nil, 0, err
	}

	return &manifest.FileEntry{
		Path:           rel,
		Size:           info.Size(),
		SHA256:         hex.EncodeToString(hasher.Sum(nil)),
		Executable:     info.Mode().Perm()&0o111 != 0,
		CompressedSize: frame.n,
	}, frame.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// PrefixMatcher returns a componentOf function mapping relative paths to the
// component whose registered path prefix matches longest.
func PrefixMatcher(prefixes map[string]string) func(string) string {
	return func(rel string) string {
		var best, bestPrefix string
		for prefix, component := range prefixes {
			if prefix != "" && (rel == prefix || strings.HasPrefix(rel, prefix+"/")) {
				if len(prefix) > len(bestPrefix) {
					best, bestPrefix = component, prefix
				}
			}
		}
		return best
	}
}
