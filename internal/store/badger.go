package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/workflow"
)

// Key layout. Prefixes act as tables; composite keys act as indices.
const (
	keyWorkflow     = "wf:"     // wf:<id> → workflow JSON
	keyExecution    = "ex:"     // ex:<id> → execution JSON (logs excluded)
	keyExecIndex    = "exidx:"  // exidx:<workflowID>:<execID> → nil
	keyLog          = "log:"    // log:<execID>:<seq> → log line JSON
	keyLogSeq       = "logseq:" // logseq:<execID> → next sequence number
	keyTemplate     = "tpl:"    // tpl:<id> → template JSON
	keyTmplIndex    = "tplidx:" // tplidx:<category>:<id> → nil
	conflictRetries = 16
)

// BadgerStore is the embedded local-first backend.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.SugaredLogger
}

// OpenBadger opens the store at dir, creating it if needed. Writes are
// synchronous so updates are durable before they are acknowledged.
func OpenBadger(dir string, logger *zap.SugaredLogger) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, storageErr("open", fmt.Errorf("create data directory %s: %w", dir, err))
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageErr("open", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// OpenBadgerInMemory opens a volatile store for tests.
func OpenBadgerInMemory(logger *zap.SugaredLogger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, storageErr("open", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs a read-write transaction, retrying on commit conflicts.
// Conflicting transactions touch the same execution record, so the retry
// loop is what serializes same-execution mutations.
func (s *BadgerStore) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return storageErr(op, err)
		}
		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		var corrupt *CorruptRecordError
		if errors.As(err, &corrupt) || errors.Is(err, ErrNotFound) {
			return err
		}
		return storageErr(op, err)
	}
	return storageErr(op, fmt.Errorf("gave up after %d conflict retries", conflictRetries))
}

func getJSON(txn *badger.Txn, key string, dst any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, dst); err != nil {
			return &CorruptRecordError{Key: key, Err: err}
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// ─── Workflows ───

func (s *BadgerStore) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	return s.update(ctx, "create workflow", func(txn *badger.Txn) error {
		return setJSON(txn, keyWorkflow+w.ID, w)
	})
}

func (s *BadgerStore) UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*workflow.Workflow, error) {
	var out *workflow.Workflow
	err := s.update(ctx, "update workflow", func(txn *badger.Txn) error {
		var w workflow.Workflow
		if err := getJSON(txn, keyWorkflow+id, &w); err != nil {
			return err
		}
		if patch.Name != nil {
			w.Name = *patch.Name
		}
		if patch.Description != nil {
			w.Description = *patch.Description
		}
		if patch.Nodes != nil {
			w.Nodes = patch.Nodes
		}
		if patch.Edges != nil {
			w.Edges = patch.Edges
		}
		if patch.Variables != nil {
			w.Variables = patch.Variables
		}
		if patch.Metadata != nil {
			w.Metadata = patch.Metadata
		}
		w.UpdatedAt = time.Now().UTC()
		out = &w
		return setJSON(txn, keyWorkflow+id, &w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) DeleteWorkflow(ctx context.Context, id string) error {
	return s.update(ctx, "delete workflow", func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keyWorkflow + id)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return txn.Delete([]byte(keyWorkflow + id))
	})
}

func (s *BadgerStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyWorkflow+id, &w)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("get workflow", err)
	}
	return &w, nil
}

func (s *BadgerStore) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var out []*workflow.Workflow
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, keyWorkflow, func(key string, val []byte) error {
			var w workflow.Workflow
			if err := json.Unmarshal(val, &w); err != nil {
				return &CorruptRecordError{Key: key, Err: err}
			}
			out = append(out, &w)
			return nil
		})
	})
	if err != nil {
		if isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("list workflows", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ─── Executions ───

func (s *BadgerStore) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	return s.update(ctx, "create execution", func(txn *badger.Txn) error {
		stored := *e
		stored.Logs = nil // logs live in their own keyspace
		if err := setJSON(txn, keyExecution+e.ID, &stored); err != nil {
			return err
		}
		return txn.Set([]byte(keyExecIndex+e.WorkflowID+":"+e.ID), nil)
	})
}

func (s *BadgerStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	return s.update(ctx, "update execution", func(txn *badger.Txn) error {
		var e workflow.Execution
		if err := getJSON(txn, keyExecution+id, &e); err != nil {
			return err
		}
		applyExecutionPatch(&e, patch)
		return setJSON(txn, keyExecution+id, &e)
	})
}

func (s *BadgerStore) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	var e workflow.Execution
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyExecution+id, &e)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("get execution", err)
	}
	return &e, nil
}

func (s *BadgerStore) ListExecutions(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	var ids []string
	var out []*workflow.Execution
	err := s.db.View(func(txn *badger.Txn) error {
		if workflowID == "" {
			return iteratePrefix(txn, keyExecution, func(key string, val []byte) error {
				var e workflow.Execution
				if err := json.Unmarshal(val, &e); err != nil {
					return &CorruptRecordError{Key: key, Err: err}
				}
				out = append(out, &e)
				return nil
			})
		}
		prefix := keyExecIndex + workflowID + ":"
		if err := iteratePrefix(txn, prefix, func(key string, _ []byte) error {
			ids = append(ids, key[len(prefix):])
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var e workflow.Execution
			if err := getJSON(txn, keyExecution+id, &e); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue // index entry outliving its record is harmless
				}
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		if isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("list executions", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *BadgerStore) UpdateExecutionNodeState(ctx context.Context, executionID, nodeID string, status workflow.NodeStatus, output any, errMsg string) error {
	return s.update(ctx, "update node state", func(txn *badger.Txn) error {
		var e workflow.Execution
		if err := getJSON(txn, keyExecution+executionID, &e); err != nil {
			return err
		}
		applyNodeState(&e, nodeID, status, output, errMsg, time.Now().UTC())
		return setJSON(txn, keyExecution+executionID, &e)
	})
}

// ─── Logs ───

func (s *BadgerStore) AppendLog(ctx context.Context, executionID, nodeID string, level workflow.LogLevel, message string, data map[string]any) error {
	line := workflow.LogLine{
		Timestamp: time.Now().UTC(),
		Level:     level,
		NodeID:    nodeID,
		Message:   message,
		Data:      data,
	}
	return s.update(ctx, "append log", func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, keyLogSeq+executionID)
		if err != nil {
			return err
		}
		return setJSON(txn, fmt.Sprintf("%s%s:%012d", keyLog, executionID, seq), &line)
	})
}

func (s *BadgerStore) ListLogs(ctx context.Context, executionID string) ([]workflow.LogLine, error) {
	var out []workflow.LogLine
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, keyLog+executionID+":", func(key string, val []byte) error {
			var line workflow.LogLine
			if err := json.Unmarshal(val, &line); err != nil {
				return &CorruptRecordError{Key: key, Err: err}
			}
			out = append(out, line)
			return nil
		})
	})
	if err != nil {
		if isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("list logs", err)
	}
	return out, nil
}

// ─── Templates ───

func (s *BadgerStore) CreateTemplate(ctx context.Context, t *workflow.Template) error {
	return s.update(ctx, "create template", func(txn *badger.Txn) error {
		if err := setJSON(txn, keyTemplate+t.ID, t); err != nil {
			return err
		}
		return txn.Set([]byte(keyTmplIndex+t.Category+":"+t.ID), nil)
	})
}

func (s *BadgerStore) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	var t workflow.Template
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyTemplate+id, &t)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("get template", err)
	}
	return &t, nil
}

func (s *BadgerStore) ListTemplates(ctx context.Context, category string) ([]*workflow.Template, error) {
	var out []*workflow.Template
	err := s.db.View(func(txn *badger.Txn) error {
		if category == "" {
			return iteratePrefix(txn, keyTemplate, func(key string, val []byte) error {
				var t workflow.Template
				if err := json.Unmarshal(val, &t); err != nil {
					return &CorruptRecordError{Key: key, Err: err}
				}
				out = append(out, &t)
				return nil
			})
		}
		prefix := keyTmplIndex + category + ":"
		var ids []string
		if err := iteratePrefix(txn, prefix, func(key string, _ []byte) error {
			ids = append(ids, key[len(prefix):])
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var t workflow.Template
			if err := getJSON(txn, keyTemplate+id, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		if isCorrupt(err) {
			return nil, err
		}
		return nil, storageErr("list templates", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ─── Helpers ───

func iteratePrefix(txn *badger.Txn, prefix string, fn func(key string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
		item := it.Item()
		if !bytes.HasPrefix(item.Key(), []byte(prefix)) {
			break
		}
		key := string(item.KeyCopy(nil))
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

func nextSeq(txn *badger.Txn, key string) (uint64, error) {
	var seq uint64
	item, err := txn.Get([]byte(key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			_, scanErr := fmt.Sscanf(string(val), "%d", &seq)
			return scanErr
		}); err != nil {
			return 0, err
		}
	}
	if err := txn.Set([]byte(key), []byte(fmt.Sprintf("%d", seq+1))); err != nil {
		return 0, err
	}
	return seq, nil
}

func isCorrupt(err error) bool {
	var corrupt *CorruptRecordError
	return errors.As(err, &corrupt)
}
