// Package segment encodes index generations into a binary artifact, persists
// them and reads them back for verification.
//
// Layout: a 64-byte header, the postings region (one JSON array per term),
// the JSON dictionary, the JSON column block and a 32-byte footer whose first
// word is the CRC-32 of everything before it. The artifact carries no
// timestamps, so equal inputs encode to equal bytes.
package segment

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
)

const (
	MagicBytes    uint32 = 0x41575358
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32

	filePrefix = "gen-"
	fileSuffix = ".awx"
)

// Header is the fixed-size block at the start of every artifact.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	ColsOffset int64
	ColsSize   int64
}

// DictEntry maps a term to its postings offset, length, and document frequency
// relative to the start of the postings region.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Input is everything that goes into an artifact.
type Input struct {
	SnapshotID string
	Terms      []index.TermEntry
	Columns    index.Columns
}

type columnBlock struct {
	SnapshotID string        `json:"snapshot_id"`
	Columns    index.Columns `json:"columns"`
}

// Encode serialises in. The same input always yields the same bytes.
func Encode(in Input) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	h := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(in.Terms)),
		DocCount:   uint32(in.Columns.Len()),
		PostOffset: int64(HeaderSize),
	}

	dict := make([]DictEntry, 0, len(in.Terms))
	for _, entry := range in.Terms {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return nil, fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: int64(buf.Len()) - h.PostOffset,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		buf.Write(postingsData)
	}
	h.PostSize = int64(buf.Len()) - h.PostOffset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("marshaling dictionary: %w", err)
	}
	h.DictOffset = int64(buf.Len())
	h.DictSize = int64(len(dictData))
	buf.Write(dictData)

	colsData, err := json.Marshal(columnBlock{SnapshotID: in.SnapshotID, Columns: in.Columns})
	if err != nil {
		return nil, fmt.Errorf("marshaling columns: %w", err)
	}
	h.ColsOffset = int64(buf.Len())
	h.ColsSize = int64(len(colsData))
	buf.Write(colsData)

	data := buf.Bytes()
	putHeader(data[:HeaderSize], h)

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(data))
	binary.LittleEndian.PutUint32(footer[4:8], h.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(h.ColsSize))
	return append(data, footer...), nil
}

// Hash returns the hex sha256 of an encoded artifact.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.ColsOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.ColsSize))
}

func parseHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		PostOffset: int64(binary.LittleEndian.Uint64(b[16:24])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[24:32])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		ColsOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		ColsSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// FileName is the on-disk name of the artifact for a generation version.
func FileName(version string) string {
	return filePrefix + version + fileSuffix
}

// Writer persists encoded artifacts into a directory.
type Writer struct {
	dataDir string
	keep    int
}

// NewWriter creates a Writer for dataDir that retains the newest keep
// artifacts; keep <= 0 retains all of them.
func NewWriter(dataDir string, keep int) *Writer {
	return &Writer{dataDir: dataDir, keep: keep}
}

// Write atomically stores data as the artifact for version. It writes to a
// .tmp file first and renames on success. An artifact that already exists is
// left untouched since its name is its content hash.
func (w *Writer) Write(version string, data []byte) (string, error) {
	finalPath := filepath.Join(w.dataDir, FileName(version))
	if _, err := os.Stat(finalPath); err == nil {
		return finalPath, nil
	}
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp artifact file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing artifact file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing artifact file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming artifact file: %w", err)
	}
	return finalPath, nil
}

// Prune removes all but the newest artifacts, never touching current.
// It returns the removed file names.
func (w *Writer) Prune(current string) ([]string, error) {
	if w.keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(w.dataDir)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	type artifact struct {
		name string
		mod  int64
	}
	var artifacts []artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{name: name, mod: info.ModTime().UnixNano()})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].mod != artifacts[j].mod {
			return artifacts[i].mod > artifacts[j].mod
		}
		return artifacts[i].name < artifacts[j].name
	})

	var removed []string
	kept := 0
	for _, a := range artifacts {
		if filepath.Join(w.dataDir, a.name) == current || kept < w.keep {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(w.dataDir, a.name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing artifact %s: %w", a.name, err)
		}
		removed = append(removed, a.name)
	}
	return removed, nil
}
