// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpsec

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

const retentionDir string = "retained"

// RetentionRecord is the opaque retention entry the requestBundleStorage
// action (§4.7's effect table) writes: which bundle, when it arrived at
// this node, and why it was retained.
type RetentionRecord struct {
	Id       string `badgerhold:"key"`
	BId      bpv7.BundleID
	Arrived  time.Time
	Reason   string
	Filename string
}

// RetentionStore is the Retention Store (C10): a durable place to put a
// bundle a policy action has asked to keep, backed by the same badgerhold
// embedded store the teacher uses for its pending-bundle queue. It is a
// bystander to the security-operation path; ProcessIncoming calls Retain
// only as the side effect of the requestBundleStorage action, never
// unconditionally.
type RetentionStore struct {
	bh  *badgerhold.Store
	dir string
}

// NewRetentionStore opens or creates a RetentionStore rooted at dir.
func NewRetentionStore(dir string) (*RetentionStore, error) {
	retDir := path.Join(dir, retentionDir)
	if err := os.MkdirAll(retDir, 0700); err != nil {
		return nil, err
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = retDir
	opts.ValueDir = retDir
	opts.Logger = log.StandardLogger()

	bh, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}

	return &RetentionStore{bh: bh, dir: retDir}, nil
}

// Close the RetentionStore. It must not be used afterwards.
func (rs *RetentionStore) Close() error {
	return rs.bh.Close()
}

// Retain persists b's bundle ID, arrival time, and reason. Repeated Retain
// calls for the same bundle overwrite the prior record with the latest
// reason.
func (rs *RetentionStore) Retain(b bpv7.Bundle, reason string) error {
	id := b.ID().Scrub().String()

	filename := path.Join(rs.dir, id+".bundle")
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := b.WriteBundle(f); err != nil {
		return err
	}

	record := RetentionRecord{
		Id:       id,
		BId:      b.ID(),
		Arrived:  time.Now(),
		Reason:   reason,
		Filename: filename,
	}

	log.WithFields(log.Fields{"bundle": b.ID(), "reason": reason}).Info("Retaining bundle per requestBundleStorage action")

	return rs.bh.Upsert(id, record)
}

// Query fetches the RetentionRecord for the given BundleID, if retained.
func (rs *RetentionStore) Query(bid bpv7.BundleID) (RetentionRecord, error) {
	var record RetentionRecord
	err := rs.bh.Get(bid.Scrub().String(), &record)
	return record, err
}

// Forget removes a retained bundle's record and its serialized payload.
func (rs *RetentionStore) Forget(bid bpv7.BundleID) error {
	record, err := rs.Query(bid)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}

	if err := os.Remove(record.Filename); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to remove retained bundle payload")
	}

	return rs.bh.Delete(record.Id, RetentionRecord{})
}
