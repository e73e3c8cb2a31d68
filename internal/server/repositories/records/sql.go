package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

const recordColumns = `id, owner_id, owner_name, file_name, file_size, algorithm, key_type,
	created_at, fingerprint, decrypt_count, storage_path, nonce_hex, encrypted_key`

func scanRecord(row interface{ Scan(...any) error }) (*models.VaultRecord, error) {
	rec := &models.VaultRecord{}
	var path, nonce, key sql.NullString

	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.OwnerName, &rec.FileName, &rec.FileSize,
		&rec.Algorithm, &rec.KeyType, &rec.CreatedAt, &rec.Fingerprint, &rec.DecryptCount,
		&path, &nonce, &key)
	if err != nil {
		return nil, err
	}

	switch {
	case !path.Valid && !nonce.Valid && !key.Valid:
	case path.Valid && nonce.Valid && key.Valid:
		rec.Storage = &models.StoredArtifact{Path: path.String, NonceHex: nonce.String, EncryptedKey: key.String}
	default:
		return nil, fmt.Errorf("%w: record %s has partial storage fields", common.ErrorInternal, rec.ID)
	}

	return rec, nil
}

func storageArgs(s *models.StoredArtifact) (path, nonce, key sql.NullString) {
	if s == nil {
		return
	}
	return sql.NullString{String: s.Path, Valid: true},
		sql.NullString{String: s.NonceHex, Valid: true},
		sql.NullString{String: s.EncryptedKey, Valid: true}
}

func (r *SQLRepository) Create(ctx context.Context, rec *models.VaultRecord) error {
	query := `
		INSERT INTO key_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	path, nonce, key := storageArgs(rec.Storage)

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.OwnerName, rec.FileName, rec.FileSize, rec.Algorithm, rec.KeyType,
		rec.CreatedAt, rec.Fingerprint, rec.DecryptCount, path, nonce, key)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.VaultRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM key_records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		if errors.Is(err, common.ErrorInternal) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *SQLRepository) List(ctx context.Context, ownerID string) ([]models.VaultRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM key_records
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.VaultRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if errors.Is(err, common.ErrorInternal) {
				return nil, err
			}
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) IncrementDecryptCount(ctx context.Context, id string) (int64, error) {
	query := `
		UPDATE key_records SET decrypt_count = decrypt_count + 1
		WHERE id = $1
		RETURNING decrypt_count
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM key_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectAffected(res)
}

func (r *SQLRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM key_records`)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) Count(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM key_records WHERE ($1 = '' OR owner_id = $1)`
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) CountCreatedBetween(ctx context.Context, ownerID string, from, to time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM key_records
		WHERE ($1 = '' OR owner_id = $1) AND created_at >= $2 AND created_at < $3`
	if err := r.db.QueryRowContext(ctx, query, ownerID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
