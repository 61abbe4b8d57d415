package adapters

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

// Key layout:
//
//	exam/<20-digit seq>/<examinationId>  => examination JSON
//	meta/seq                              => last used seq, big endian uint64
const (
	examPrefix = "exam/"
	seqKey     = "meta/seq"
)

// LevelDBExaminationRepository stores saved examinations in a LevelDB
// directory. Keys sort by sequence number, so iteration is insertion order.
type LevelDBExaminationRepository struct {
	db     *leveldb.DB
	logger *zap.Logger

	mu  sync.Mutex // guards seq allocation
	seq uint64
}

var _ repositories.ExaminationRepositoryContract = (*LevelDBExaminationRepository)(nil)

// OpenLevelDBExaminationRepository opens (or creates) the database at path.
func OpenLevelDBExaminationRepository(path string, logger *zap.Logger) (*LevelDBExaminationRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %s: %w", path, err)
	}
	r := &LevelDBExaminationRepository{db: db, logger: logger.Named("leveldb-repository")}

	raw, err := db.Get([]byte(seqKey), nil)
	switch {
	case err == nil && len(raw) == 8:
		r.seq = binary.BigEndian.Uint64(raw)
	case err == nil, errors.Is(err, leveldb.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("leveldb: read sequence: %w", err)
	}
	r.logger.Info("leveldb opened", zap.String("path", path), zap.Uint64("seq", r.seq))
	return r, nil
}

func examKey(seq uint64, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", examPrefix, seq, id))
}

// Append stores exam under the next sequence number.
func (r *LevelDBExaminationRepository) Append(ctx context.Context, exam *entities.Examination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("leveldb: encode %s: %w", exam.ExaminationID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.seq + 1
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], next)

	batch := new(leveldb.Batch)
	batch.Put(examKey(next, exam.ExaminationID), data)
	batch.Put([]byte(seqKey), seqBuf[:])
	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: append %s: %w", exam.ExaminationID, err)
	}
	r.seq = next
	return nil
}

// ListAll returns every stored examination in insertion order.
func (r *LevelDBExaminationRepository) ListAll(ctx context.Context) ([]*entities.Examination, error) {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(examPrefix)), nil)
	defer iter.Release()

	var out []*entities.Examination
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e entities.Examination
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("leveldb: decode %s: %w", iter.Key(), err)
		}
		out = append(out, &e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb: iterate: %w", err)
	}
	if out == nil {
		out = []*entities.Examination{}
	}
	return out, nil
}

// DeleteByID removes every record whose key carries examinationID.
func (r *LevelDBExaminationRepository) DeleteByID(ctx context.Context, examinationID uuid.UUID) error {
	suffix := "/" + examinationID.String()
	removed, err := r.deleteMatching(ctx, func(key []byte) bool {
		return strings.HasSuffix(string(key), suffix)
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%s: %w", examinationID, repositories.ErrExaminationNotFound)
	}
	return nil
}

// DeleteAll removes every examination. The sequence counter is kept so
// later appends still sort after anything written before.
func (r *LevelDBExaminationRepository) DeleteAll(ctx context.Context) error {
	_, err := r.deleteMatching(ctx, func([]byte) bool { return true })
	return err
}

func (r *LevelDBExaminationRepository) deleteMatching(ctx context.Context, match func(key []byte) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	iter := r.db.NewIterator(util.BytesPrefix([]byte(examPrefix)), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		if match(iter.Key()) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iterErr := iter.Error()
	iter.Release()
	if iterErr != nil {
		return 0, fmt.Errorf("leveldb: iterate: %w", iterErr)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := r.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("leveldb: delete: %w", err)
	}
	return batch.Len(), nil
}

// Close closes the database.
func (r *LevelDBExaminationRepository) Close() error {
	return r.db.Close()
}
