package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
)

var ErrCorrupt = errors.New("segment: corrupt artifact")

type Reader struct {
	file       *os.File
	filePath   string
	size       int64
	header     Header
	dict       []DictEntry
	snapshotID string
	cols       index.Columns
}

// Open reads the header, verifies the checksum and loads the dictionary and
// columns. Postings stay on disk until Search asks for them.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact file: %w", err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact file: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: %d bytes is shorter than header and footer", ErrCorrupt, size)
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := parseHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, header.Version)
	}
	body := size - int64(FooterSize)
	if header.ColsOffset+header.ColsSize != body || header.DictOffset+header.DictSize > body {
		return nil, fmt.Errorf("%w: header offsets do not match file size", ErrCorrupt)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, body); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, io.NewSectionReader(f, 0, body)); err != nil {
		return nil, fmt.Errorf("checksumming artifact: %w", err)
	}
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc.Sum32() != want {
		return nil, fmt.Errorf("%w: checksum %08x, footer says %08x", ErrCorrupt, crc.Sum32(), want)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	colsBytes := make([]byte, header.ColsSize)
	if _, err := f.ReadAt(colsBytes, header.ColsOffset); err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	var block columnBlock
	if err := json.Unmarshal(colsBytes, &block); err != nil {
		return nil, fmt.Errorf("parsing columns: %w", err)
	}

	return &Reader{
		file:       f,
		filePath:   path,
		size:       size,
		header:     header,
		dict:       dict,
		snapshotID: block.SnapshotID,
		cols:       block.Columns,
	}, nil
}

func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

func (r *Reader) Header() Header         { return r.header }
func (r *Reader) Dictionary() []DictEntry { return r.dict }
func (r *Reader) Columns() index.Columns  { return r.cols }
func (r *Reader) SnapshotID() string      { return r.snapshotID }
func (r *Reader) Size() int64             { return r.size }
func (r *Reader) Path() string            { return r.filePath }

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

// Hash returns the sha256 of the whole artifact file.
func (r *Reader) Hash() (string, error) {
	data := make([]byte, r.size)
	if _, err := r.file.ReadAt(data, 0); err != nil {
		return "", fmt.Errorf("reading artifact: %w", err)
	}
	return Hash(data), nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}
