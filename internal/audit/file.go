package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

// maxLineSize bounds a single JSON line when reading the log back.
const maxLineSize = 1 << 20

var _ core.AuditLog = (*FileLog)(nil)

// FileLog writes decisions as JSON lines to a file. Every append is synced to
// disk before it returns. A failed append is cut off the file again, so a
// retried decision ends up in the log exactly once.
type FileLog struct {
	path string

	mu   sync.Mutex
	file *os.File
	// size is the length of the acknowledged part of the file.
	size int64
	ids  map[string]struct{}
	// broken is set when a failed append could not be rolled back.
	broken error
}

func NewFileLog(path string) (*FileLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}
	if err := truncateTornTail(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	ids, err := readIDs(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("seeking audit log file: %w", err)
	}
	return &FileLog{
		path: path,
		file: file,
		size: size,
		ids:  ids,
	}, nil
}

// readIDs collects the decision IDs already in the file.
func readIDs(f *os.File) (map[string]struct{}, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking audit log file: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	ids := make(map[string]struct{})
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var entry struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("decoding audit log line %d: %w", lineNo, err)
		}
		ids[entry.ID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log file: %w", err)
	}
	return ids, nil
}

// truncateTornTail drops a trailing partial line left behind by a crash
// during a write. Such a line was never acknowledged to anyone.
func truncateTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading audit log file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	// scan backwards for the last newline
	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading audit log file: %w", err)
		}
		if idx := bytes.LastIndexByte(buf[:n], '\n'); idx >= 0 {
			keep := start + int64(idx) + 1
			if keep == size {
				return nil
			}
			log.Warn().Int64("bytes", size-keep).Str("path", f.Name()).Msg("dropping torn audit log tail")
			return f.Truncate(keep)
		}
		end = start
	}
	log.Warn().Int64("bytes", size).Str("path", f.Name()).Msg("dropping torn audit log tail")
	return f.Truncate(0)
}

func (f *FileLog) Append(_ context.Context, d core.FederationDecision) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding audit log entry: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken != nil {
		return fmt.Errorf("audit log file unusable: %w", f.broken)
	}
	if _, ok := f.ids[d.ID]; ok {
		return nil
	}

	if _, err := f.file.Write(line); err != nil {
		return f.rollback(fmt.Errorf("writing audit log entry: %w", err))
	}
	if err := f.file.Sync(); err != nil {
		return f.rollback(fmt.Errorf("syncing audit log file: %w", err))
	}
	f.size += int64(len(line))
	f.ids[d.ID] = struct{}{}
	return nil
}

// rollback cuts the file back to its acknowledged size after a failed append.
// If that fails too the log refuses further appends.
func (f *FileLog) rollback(cause error) error {
	err := f.file.Truncate(f.size)
	if err == nil {
		_, err = f.file.Seek(f.size, io.SeekStart)
	}
	if err != nil {
		f.broken = errors.Join(cause, fmt.Errorf("rolling back audit log file: %w", err))
		log.Error().Err(f.broken).Str("path", f.path).Msg("audit log file is inconsistent, refusing further appends")
		return f.broken
	}
	return cause
}

// Query reads the file from the start on every call. Only lines acknowledged
// when the iteration started are read.
func (f *FileLog) Query(ctx context.Context, filter core.AuditFilter) iter.Seq2[core.FederationDecision, error] {
	return func(yield func(core.FederationDecision, error) bool) {
		f.mu.Lock()
		size := f.size
		f.mu.Unlock()

		file, err := os.Open(f.path)
		if err != nil {
			yield(core.FederationDecision{}, fmt.Errorf("opening audit log file: %w", err))
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(io.LimitReader(file, size))
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		n, lineNo := 0, 0
		for scanner.Scan() {
			lineNo++
			if err := ctx.Err(); err != nil {
				yield(core.FederationDecision{}, err)
				return
			}
			if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
				continue
			}

			var d core.FederationDecision
			if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
				yield(core.FederationDecision{}, fmt.Errorf("decoding audit log line %d: %w", lineNo, err))
				return
			}
			if !filter.Matches(d) {
				continue
			}
			if !yield(d, nil) {
				return
			}
			n++
			if filter.Limit > 0 && n >= filter.Limit {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(core.FederationDecision{}, fmt.Errorf("reading audit log file: %w", err))
		}
	}
}

func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
