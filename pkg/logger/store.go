package logger

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultStoreCapacity = 1000
	defaultQueryLimit    = 50
	maxQueryLimit        = 500
)

type Entry struct {
	ID        int64                  `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Query selects entries newest first. MinLevel keeps entries at or above the
// level; BeforeID pages backwards from a previous result.
type Query struct {
	MinLevel zapcore.Level
	Keyword  string
	BeforeID int64
	Limit    int
}

// Store is a bounded in-memory copy of recent log entries, served on the
// internal logs endpoint.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	count   int
	seq     int64
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &Store{entries: make([]Entry, capacity)}
}

// Tee returns base with every written entry also kept in the store. Fields
// are sanitized before they are stored.
func (s *Store) Tee(base *zap.Logger) *zap.Logger {
	if s == nil || base == nil {
		return base
	}
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &storeCore{Core: core, store: s}
	}))
}

func (s *Store) Query(q Query) []Entry {
	if s == nil {
		return []Entry{}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, limit)
	capacity := len(s.entries)
	for i := 0; i < s.count && len(out) < limit; i++ {
		idx := (s.next - 1 - i + capacity) % capacity
		entry := s.entries[idx]

		if q.BeforeID > 0 && entry.ID >= q.BeforeID {
			continue
		}
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(entry.Level)); err == nil && level < q.MinLevel {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(entry.Message), keyword) {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	return out
}

func (s *Store) add(entry zapcore.Entry, fields []zapcore.Field) {
	stored := Entry{
		Timestamp: entry.Time.UTC(),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Caller:    entry.Caller.TrimmedPath(),
		Fields:    encodeFields(SanitizeFields(fields)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	stored.ID = s.seq
	s.entries[s.next] = stored
	s.next = (s.next + 1) % len(s.entries)
	if s.count < len(s.entries) {
		s.count++
	}
}

func encodeFields(fields []zapcore.Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	if len(enc.Fields) == 0 {
		return nil
	}
	return enc.Fields
}

func copyEntry(entry Entry) Entry {
	if len(entry.Fields) == 0 {
		return entry
	}
	fields := make(map[string]interface{}, len(entry.Fields))
	for k, v := range entry.Fields {
		fields[k] = v
	}
	entry.Fields = fields
	return entry
}

type storeCore struct {
	zapcore.Core
	store  *Store
	fields []zapcore.Field
}

func (c *storeCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &storeCore{Core: c.Core.With(fields), store: c.store, fields: merged}
}

func (c *storeCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Check(entry, nil) == nil {
		return checked
	}
	return checked.AddCore(entry, c)
}

func (c *storeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = append(append(make([]zapcore.Field, 0, len(c.fields)+len(fields)), c.fields...), fields...)
	}
	c.store.add(entry, all)
	return c.Core.Write(entry, fields)
}
