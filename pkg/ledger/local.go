package ledger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// LocalLedger keeps the chain in memory and, when basePath is set, appends
// each contract's events to <basePath>/<contract_id>.jsonl.
type LocalLedger struct {
	mu       sync.RWMutex
	events   map[string][]Event
	seq      int64
	basePath string
	now      func() time.Time
}

func NewLocalLedger() *LocalLedger {
	l, _ := NewLocalLedgerWithPath("")
	return l
}

// NewLocalLedgerWithPath replays any existing JSONL files under basePath.
func NewLocalLedgerWithPath(basePath string) (*LocalLedger, error) {
	l := &LocalLedger{
		events:   make(map[string][]Event),
		basePath: basePath,
		now:      time.Now,
	}
	if basePath == "" {
		return l, nil
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LocalLedger) load() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "*.jsonl"))
	if err != nil {
		return err
	}
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var evs []Event
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("ledger: %s: %w", p, err)
			}
			evs = append(evs, e)
			if e.Seq > l.seq {
				l.seq = e.Seq
			}
		}
		if i := VerifyChain(evs); i >= 0 {
			return fmt.Errorf("ledger: %s: chain broken at event %d", p, i)
		}
		if len(evs) > 0 {
			l.events[evs[0].ContractID] = evs
		}
	}
	return nil
}

func (l *LocalLedger) RecordEvent(ctx context.Context, e Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := ""
	if evs := l.events[e.ContractID]; len(evs) > 0 {
		prev = evs[len(evs)-1].TxRef
	}
	e = seal(e, prev, l.now())
	e.Seq = l.seq + 1
	if l.basePath != "" {
		if err := l.appendFile(e); err != nil {
			return "", err
		}
	}
	l.seq = e.Seq
	l.events[e.ContractID] = append(l.events[e.ContractID], e)
	return e.TxRef, nil
}

func (l *LocalLedger) appendFile(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.contractPath(e.ContractID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, _ = w.Write(b)
	_ = w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *LocalLedger) contractPath(contractID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(contractID)
	return filepath.Join(l.basePath, safe+".jsonl")
}

func (l *LocalLedger) LastHash(ctx context.Context, contractID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	evs := l.events[contractID]
	if len(evs) == 0 {
		return "", ErrNoEvents
	}
	return evs[len(evs)-1].ContentHash, nil
}

func (l *LocalLedger) Events(ctx context.Context, contractID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events[contractID]...), nil
}

func (l *LocalLedger) Close() error { return nil }
