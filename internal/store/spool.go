package store

import (
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/gopub/internal/model"
)

var pubPrefix = []byte("pub")

// Spool keeps publish requests on disk across restarts.
type Spool struct {
	db  *badger.DB
	seq uint64
}

func OpenSpool(dir string) (*Spool, error) {
	opts := badger.DefaultOptions(dir).WithLogger(log.StandardLogger())
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := Spool{db: db}
	if s.seq, err = s.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}

	return &s, nil
}

func (s *Spool) Close() error {
	return s.db.Close()
}

func (s *Spool) lastSeq() (uint64, error) {
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		o := badger.DefaultIteratorOptions
		o.Reverse, o.PrefetchValues = true, false
		it := txn.NewIterator(o)
		defer it.Close()

		seek := append(append([]byte{}, pubPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(pubPrefix) {
			seq = binary.BigEndian.Uint64(it.Item().Key()[len(pubPrefix):])
		}
		return nil
	})
	return seq, err
}

// Save stores requests after the ones already spooled.
func (s *Spool) Save(rs []model.PublishRequest) error {
	if len(rs) == 0 {
		return nil
	}

	txn := s.db.NewTransaction(true)
	for _, r := range rs {
		s.seq++
		key := make([]byte, 0, len(pubPrefix)+8)
		key = append(key, pubPrefix...)
		key = binary.BigEndian.AppendUint64(key, s.seq)

		val := make([]byte, 0, 2+len(r.Topic)+len(r.Payload))
		val = binary.BigEndian.AppendUint16(val, uint16(len(r.Topic)))
		val = append(val, r.Topic...)
		val = append(val, r.Payload...)

		if err := txn.Set(key, val); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				txn.Discard()
				return err
			}
			if err = txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err = txn.Set(key, val); err != nil {
				txn.Discard()
				return err
			}
		}
	}

	return txn.Commit()
}

// Load returns all spooled requests, oldest first, and removes them from disk.
func (s *Spool) Load() ([]model.PublishRequest, error) {
	var rs []model.PublishRequest
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(pubPrefix); it.ValidForPrefix(pubPrefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(val) < 2 || len(val) < 2+int(binary.BigEndian.Uint16(val)) {
				log.WithFields(log.Fields{
					"key": item.KeyCopy(nil),
				}).Error("Discarding corrupt spooled request")
				keys = append(keys, item.KeyCopy(nil))
				continue
			}

			tLen := int(binary.BigEndian.Uint16(val))
			rs = append(rs, model.PublishRequest{
				Topic:   string(val[2 : 2+tLen]),
				Payload: val[2+tLen:],
			})
			keys = append(keys, item.KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rs, s.remove(keys)
}

func (s *Spool) remove(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}

	txn := s.db.NewTransaction(true)
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			if !errors.Is(err, badger.ErrTxnTooBig) {
				txn.Discard()
				return err
			}
			if err = txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err = txn.Delete(k); err != nil {
				txn.Discard()
				return err
			}
		}
	}

	return txn.Commit()
}
