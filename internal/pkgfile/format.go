// Package pkgfile reads and writes capstan package artifacts (.cpk).
//
// Artifact layout:
//
//	header    magic "CPKG", format version, manifest length, manifest SHA-256
//	manifest  JSON, length and checksum as recorded in the header
//	payload   one independently-compressed zstd frame per file entry
//
// Each manifest file entry records its frame's offset (relative to the start
// of the payload section) and compressed size, so a single entry can be
// re-fetched for repair without restreaming the whole archive.
package pkgfile

import "encoding/binary"

// Magic identifies a capstan package artifact.
var Magic = [4]byte{'C', 'P', 'K', 'G'}

// Format is the current artifact format version.
const Format uint16 = 1

// headerSize is magic (4) + version (2) + manifest length (4) +
// manifest checksum (32).
const headerSize = 4 + 2 + 4 + 32

// byteOrder is the on-disk integer encoding.
var byteOrder = binary.BigEndian
