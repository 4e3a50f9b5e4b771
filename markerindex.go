// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

// MarkerIndex is an on-disk sqlite index mapping marker ids to their
// chromosome, within-chromosome index, position, and alleles. It lets
// weight tables be resolved against a dataset without loading the
// whole Glist marker map, the way bgen .bgi index files work.
type MarkerIndex struct {
	DB *sqlx.DB
}

type MarkerIndexRow struct {
	ID      string  `db:"id"`
	Chrom   string  `db:"chrom"`
	Idx     int     `db:"idx"`
	Pos     int     `db:"pos"`
	Allele1 string  `db:"allele1"`
	Allele2 string  `db:"allele2"`
	Freq    float64 `db:"freq"`
}

func sqliteURI(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path
}

// CreateMarkerIndex writes a fresh marker index for gl to path,
// replacing any existing index (the index is cheap to derive, unlike
// LD files).
func CreateMarkerIndex(path string, gl *Glist) error {
	db, err := sqlx.Connect("sqlite", sqliteURI(path))
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Exec(`DROP TABLE IF EXISTS markers`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE markers (
		id TEXT NOT NULL,
		chrom TEXT NOT NULL,
		idx INTEGER NOT NULL,
		pos INTEGER NOT NULL,
		allele1 TEXT NOT NULL,
		allele2 TEXT NOT NULL,
		freq REAL NOT NULL
	)`); err != nil {
		return err
	}
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO markers (id, chrom, idx, pos, allele1, allele2, freq) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, cd := range gl.Chromosomes {
		for i, m := range cd.Markers {
			if _, err := stmt.Exec(m.ID, cd.Chromosome, i, m.Position, m.Allele1, m.Allele2, m.Freq); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, err = db.Exec(`CREATE UNIQUE INDEX markers_id ON markers (id)`)
	return err
}

func OpenMarkerIndex(path string) (*MarkerIndex, error) {
	db, err := sqlx.Connect("sqlite", sqliteURI(path))
	if err != nil {
		return nil, err
	}
	return &MarkerIndex{DB: db}, nil
}

func (ix *MarkerIndex) Close() error {
	return ix.DB.Close()
}

// Lookup returns the index row for the given marker id.
func (ix *MarkerIndex) Lookup(id string) (MarkerIndexRow, error) {
	var row MarkerIndexRow
	err := ix.DB.Get(&row, `SELECT id, chrom, idx, pos, allele1, allele2, freq FROM markers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, &NotFoundError{Kind: "marker", ID: id}
	}
	return row, err
}
