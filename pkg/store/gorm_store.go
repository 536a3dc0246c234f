package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"taxvault/pkg/domain"
)

const migrateLockID int64 = 81420163

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}, &ExtractionModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'extraction_models'
				AND constraint_name = 'extraction_models_document_id_fkey'
			) THEN
				ALTER TABLE extraction_models
				ADD CONSTRAINT extraction_models_document_id_fkey
				FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
			END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure extraction foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateDocument inserts a new document row.
func (s *GormStore) CreateDocument(doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document by ID.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents ordered by created_at.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// TransitionDocument performs the guarded status update. The WHERE clause
// carries the expected source status so two racing transitions cannot both
// succeed; the loser sees zero rows affected and gets ErrConflictingState.
func (s *GormStore) TransitionDocument(id string, from, to domain.DocumentStatus, upd DocumentUpdate) (domain.Document, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if upd.PIICount != nil {
		updates["pii_count"] = *upd.PIICount
	}
	if upd.StagingKey != nil {
		updates["staging_key"] = *upd.StagingKey
	}
	if upd.RedactedKey != nil {
		updates["redacted_key"] = *upd.RedactedKey
	}
	if upd.VaultKey != nil {
		updates["vault_key"] = *upd.VaultKey
	}
	if upd.FailureReason != nil {
		updates["failure_reason"] = *upd.FailureReason
	}
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return domain.Document{}, res.Error
	}
	if res.RowsAffected == 0 {
		doc, ok, err := s.GetDocument(id)
		if err != nil {
			return domain.Document{}, err
		}
		if !ok {
			return domain.Document{}, domain.ErrNotFound
		}
		return doc, domain.ErrConflictingState
	}
	doc, _, err := s.GetDocument(id)
	return doc, err
}

// DeleteDocument removes the row; the extraction row follows via FK cascade.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// CreateExtraction inserts a new extraction row.
func (s *GormStore) CreateExtraction(ex domain.Extraction) error {
	model, err := extractionToModel(ex)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetExtraction retrieves the extraction for a document.
func (s *GormStore) GetExtraction(documentID string) (domain.Extraction, bool, error) {
	var model ExtractionModel
	if err := s.db.First(&model, "document_id = ?", documentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Extraction{}, false, nil
		}
		return domain.Extraction{}, false, err
	}
	ex, err := extractionFromModel(model)
	if err != nil {
		return domain.Extraction{}, false, err
	}
	return ex, true, nil
}

// TransitionExtraction mirrors TransitionDocument for extraction rows.
func (s *GormStore) TransitionExtraction(documentID string, from, to domain.ExtractionStatus, upd ExtractionUpdate) (domain.Extraction, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     string(to),
		"updated_at": now,
	}
	if upd.Fields != nil {
		raw, err := json.Marshal(upd.Fields)
		if err != nil {
			return domain.Extraction{}, fmt.Errorf("marshal fields: %w", err)
		}
		updates["fields"] = raw
	}
	if upd.Error != nil {
		updates["error"] = *upd.Error
	}
	if upd.ExtractedAt {
		updates["extracted_at"] = now
	}
	res := s.db.Model(&ExtractionModel{}).
		Where("document_id = ? AND status = ?", documentID, string(from)).
		Updates(updates)
	if res.Error != nil {
		return domain.Extraction{}, res.Error
	}
	if res.RowsAffected == 0 {
		ex, ok, err := s.GetExtraction(documentID)
		if err != nil {
			return domain.Extraction{}, err
		}
		if !ok {
			return domain.Extraction{}, domain.ErrNotFound
		}
		return ex, domain.ErrConflictingState
	}
	ex, _, err := s.GetExtraction(documentID)
	return ex, err
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		Filename:      d.Filename,
		MimeType:      d.MimeType,
		SizeBytes:     d.SizeBytes,
		Status:        string(d.Status),
		StagingKey:    d.StagingKey,
		RedactedKey:   d.RedactedKey,
		VaultKey:      d.VaultKey,
		PIICount:      d.PIICount,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Filename:      m.Filename,
		MimeType:      m.MimeType,
		SizeBytes:     m.SizeBytes,
		Status:        domain.DocumentStatus(m.Status),
		StagingKey:    m.StagingKey,
		RedactedKey:   m.RedactedKey,
		VaultKey:      m.VaultKey,
		PIICount:      m.PIICount,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func extractionToModel(e domain.Extraction) (ExtractionModel, error) {
	model := ExtractionModel{
		DocumentID:  e.DocumentID,
		Status:      string(e.Status),
		Error:       e.Error,
		ExtractedAt: e.ExtractedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.Fields != nil {
		raw, err := json.Marshal(e.Fields)
		if err != nil {
			return ExtractionModel{}, fmt.Errorf("marshal fields: %w", err)
		}
		model.Fields = raw
	}
	return model, nil
}

func extractionFromModel(m ExtractionModel) (domain.Extraction, error) {
	ex := domain.Extraction{
		DocumentID:  m.DocumentID,
		Status:      domain.ExtractionStatus(m.Status),
		Error:       m.Error,
		ExtractedAt: m.ExtractedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if len(m.Fields) > 0 {
		var fields domain.TaxFields
		if err := json.Unmarshal(m.Fields, &fields); err != nil {
			return domain.Extraction{}, fmt.Errorf("unmarshal fields: %w", err)
		}
		ex.Fields = &fields
	}
	return ex, nil
}
