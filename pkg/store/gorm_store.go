package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"codemorph/pkg/domain"
)

const migrateLockID int64 = 52160841

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
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
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &InstallationModel{}, &ConversionJobModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
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

// CreateUser inserts a new user. A duplicate email surfaces as ErrValidation.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: email already registered", domain.ErrValidation)
		}
		return err
	}
	return nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByAPIKeyHash looks up an active user by API key digest.
func (s *GormStore) GetUserByAPIKeyHash(hash string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("api_key_hash = ? AND active", hash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByGitHubLogin looks up a user by registered GitHub username.
func (s *GormStore) GetUserByGitHubLogin(login string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("github_login = ?", login).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpsertInstallation links or relinks an installation to a user.
func (s *GormStore) UpsertInstallation(inst domain.Installation) error {
	model := installationToModel(inst)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "installation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "repository_selection", "linked_at"}),
	}).Create(&model).Error
}

// DeleteInstallation removes an installation link.
func (s *GormStore) DeleteInstallation(installationID int64) error {
	return s.db.Delete(&InstallationModel{}, "installation_id = ?", installationID).Error
}

// GetInstallationByUser returns the installation linked to userID.
func (s *GormStore) GetInstallationByUser(userID string) (domain.Installation, bool, error) {
	var model InstallationModel
	if err := s.db.Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Installation{}, false, nil
		}
		return domain.Installation{}, false, err
	}
	return installationFromModel(model), true, nil
}

// CreateJob inserts a new pending job.
func (s *GormStore) CreateJob(job domain.ConversionJob) error {
	model := jobToModel(job)
	return s.db.Create(&model).Error
}

// GetJob retrieves a job.
func (s *GormStore) GetJob(id string) (domain.ConversionJob, bool, error) {
	var model ConversionJobModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ConversionJob{}, false, nil
		}
		return domain.ConversionJob{}, false, err
	}
	return jobFromModel(model), true, nil
}

// ListJobsByUser returns the user's jobs newest first. The id tiebreak keeps
// pagination stable when jobs share a creation timestamp.
func (s *GormStore) ListJobsByUser(userID string, limit, offset int) ([]domain.ConversionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var models []ConversionJobModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.ConversionJob, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, jobFromModel(m))
	}
	return jobs, nil
}

// Transition applies a guarded status update. The WHERE clause on the
// current status is the compare-and-swap that keeps two workers off the
// same job.
func (s *GormStore) Transition(id string, expected, next domain.JobStatus, fields JobUpdate) error {
	if !legalTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrConflict, expected, next)
	}
	updates := transitionColumns(next, fields)
	res := s.db.Model(&ConversionJobModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.Model(&ConversionJobModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("%w: job %s not in %s", domain.ErrConflict, id, expected)
	}
	return nil
}

// claimLockClass namespaces per-user claim locks away from the migration
// lock, which uses the one-argument advisory form.
const claimLockClass int32 = 5216

// ClaimJob claims a pending job. The row lock serializes claims of the same
// job; the per-user advisory lock serializes claims of different jobs owned
// by one user, so the running cap holds even under READ COMMITTED where two
// transactions would otherwise each count the other's claim as not yet
// running.
func (s *GormStore) ClaimJob(id string, maxRunningPerUser int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model ConversionJobModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
			}
			return err
		}
		if model.Status != string(domain.StatusPending) {
			return fmt.Errorf("%w: job %s not pending", domain.ErrConflict, id)
		}
		if maxRunningPerUser > 0 {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?, hashtext(?))", claimLockClass, model.UserID).Error; err != nil {
				return fmt.Errorf("acquire claim lock: %w", err)
			}
			var running int64
			if err := tx.Model(&ConversionJobModel{}).
				Where("user_id = ? AND status = ?", model.UserID, string(domain.StatusRunning)).
				Count(&running).Error; err != nil {
				return err
			}
			if running >= int64(maxRunningPerUser) {
				return fmt.Errorf("%w: user %s", domain.ErrBusy, model.UserID)
			}
		}
		now := time.Now().UTC()
		res := tx.Model(&ConversionJobModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Updates(map[string]any{"status": string(domain.StatusRunning), "started_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: job %s", domain.ErrConflict, id)
		}
		return nil
	})
}

// NextPendingJob returns the oldest pending job id.
func (s *GormStore) NextPendingJob() (string, bool, error) {
	var model ConversionJobModel
	if err := s.db.Where("status = ?", string(domain.StatusPending)).
		Order("created_at ASC, id ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.ID, true, nil
}

func transitionColumns(next domain.JobStatus, fields JobUpdate) map[string]any {
	now := time.Now().UTC()
	updates := map[string]any{"status": string(next)}
	switch next {
	case domain.StatusRunning:
		updates["started_at"] = now
	case domain.StatusCompleted, domain.StatusFailed:
		updates["completed_at"] = now
	}
	if fields.FilesProcessed != nil {
		updates["files_processed"] = *fields.FilesProcessed
	}
	if fields.FilesConverted != nil {
		updates["files_converted"] = *fields.FilesConverted
	}
	if fields.PRURL != nil {
		updates["pr_url"] = *fields.PRURL
	}
	if fields.ErrorMessage != nil {
		updates["error_message"] = *fields.ErrorMessage
	}
	if fields.Retryable != nil {
		updates["retryable"] = *fields.Retryable
	}
	return updates
}
