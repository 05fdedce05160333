package statestore

import (
	"github.com/hashicorp/go-memdb"

	"github.com/mongoreindex/mongoreindex"
)

// Name constants for tables.
const tableIndex = "index_record"

// Name constants for fields on the flattened record the table stores.
const (
	keyCollection = "Collection"
	keyOriginal   = "OriginalName"
	keyPhase      = "Phase"
)

// Name constants for index selection.
const (
	indexID            = "id"
	indexCollection    = "collection"
	indexCollPhase     = "collection-phase"
	indexPhase         = "phase"
)

// record is the flattened, memdb-indexable projection of an IndexRecord
// within its owning collection. The durable source of truth is the
// JobState tree held by the caller; record exists only to make that tree
// queryable by collection and phase without a linear scan.
type record struct {
	Collection string
	*mongoreindex.IndexRecord
}

// schema builds the go-memdb schema for the working-set index, following
// the table/index construction idiom used for the task table this
// project's ancestor kept in memory.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableIndex: {
				Name: tableIndex,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:         indexID,
						AllowMissing: false,
						Unique:       true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: keyCollection},
								&memdb.StringFieldIndex{Field: keyOriginal},
							},
						},
					},
					indexCollection: {
						Name:         indexCollection,
						AllowMissing: false,
						Unique:       false,
						Indexer:      &memdb.StringFieldIndex{Field: keyCollection},
					},
					indexCollPhase: {
						Name:         indexCollPhase,
						AllowMissing: false,
						Unique:       false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: keyCollection},
								&memdb.StringFieldIndex{Field: keyPhase},
							},
						},
					},
					indexPhase: {
						Name:         indexPhase,
						AllowMissing: false,
						Unique:       false,
						Indexer:      &memdb.StringFieldIndex{Field: keyPhase},
					},
				},
			},
		},
	}
}

// rebuildIndex flattens js into the table table and replaces the Store's
// working set with it wholesale. Called after every Load and Save so the
// in-memory view never drifts from the durable file.
func (s *Store) rebuildIndex(js *mongoreindex.JobState) error {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return err
	}

	js.LockState()
	txn := db.Txn(true)
	for _, c := range js.Collections {
		for _, r := range c.Indexes {
			if err := txn.Insert(tableIndex, &record{Collection: c.Name, IndexRecord: r}); err != nil {
				txn.Abort()
				js.UnlockState()
				return err
			}
		}
	}
	txn.Commit()
	js.UnlockState()

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	return nil
}

// IndexesInCollection returns every IndexRecord tracked for coll, in no
// particular order.
func (s *Store) IndexesInCollection(coll string) ([]*mongoreindex.IndexRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	txn := db.Txn(false)
	it, err := txn.Get(tableIndex, indexCollection, coll)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

// IndexesByPhase returns every IndexRecord across all collections currently
// in phase p.
func (s *Store) IndexesByPhase(p mongoreindex.Phase) ([]*mongoreindex.IndexRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	txn := db.Txn(false)
	it, err := txn.Get(tableIndex, indexPhase, string(p))
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

// CollectionPhases returns every IndexRecord tracked for coll that is
// currently in phase p.
func (s *Store) CollectionPhases(coll string, p mongoreindex.Phase) ([]*mongoreindex.IndexRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()

	txn := db.Txn(false)
	it, err := txn.Get(tableIndex, indexCollPhase, coll, string(p))
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

func collect(it memdb.ResultIterator) []*mongoreindex.IndexRecord {
	var out []*mongoreindex.IndexRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*record).IndexRecord)
	}
	return out
}
