// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package checkpoint records which child tables have been written in full,
// so that an interrupted ingest can be resumed without duplicating rows.
package checkpoint

import (
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store maps child table names to the number of rows written to them. It is
// safe for concurrent use.
type Store struct {
	db  *leveldb.DB
	len int64
}

// Open opens or creates the checkpoint database in dirname.
func Open(dirname string) (*Store, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	s := &Store{db: db}
	iter := db.NewIterator(&util.Range{}, nil)
	for iter.Next() {
		s.len++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "counting entries")
	}
	return s, nil
}

// Done reports whether table has been marked done.
func (s *Store) Done(table string) bool {
	ok, err := s.db.Has([]byte(table), nil)
	return err == nil && ok
}

// Rows returns the row count recorded for table.
func (s *Store) Rows(table string) (uint64, bool) {
	val, err := s.db.Get([]byte(table), nil)
	if err != nil || len(val) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(val), true
}

// MarkDone records that rows rows were written to table.
func (s *Store) MarkDone(table string, rows uint64) error {
	key := []byte(table)
	existed, err := s.db.Has(key, nil)
	if err != nil {
		return errors.Wrap(err, "checking key")
	}
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, rows)
	if err := s.db.Put(key, val, &opt.WriteOptions{}); err != nil {
		return errors.Wrapf(err, "marking %s done", table)
	}
	if !existed {
		atomic.AddInt64(&s.len, 1)
	}
	return nil
}

// Len returns the number of tables marked done.
func (s *Store) Len() int {
	return int(atomic.LoadInt64(&s.len))
}

// Close closes the underlying leveldb.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "closing leveldb")
}
