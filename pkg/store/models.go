package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"codemorph/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID          string    `gorm:"primaryKey"`
	Email       string    `gorm:"uniqueIndex;not null"`
	GitHubLogin string    `gorm:"column:github_login;index;not null"`
	APIKeyHash  string    `gorm:"column:api_key_hash;uniqueIndex;not null"`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type InstallationModel struct {
	InstallationID      int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID              string    `gorm:"uniqueIndex;not null"`
	RepositorySelection string    `gorm:"not null"`
	LinkedAt            time.Time `gorm:"not null"`
}

type ConversionJobModel struct {
	ID              string         `gorm:"primaryKey"`
	UserID          string         `gorm:"not null;index"`
	RepoOwner       string         `gorm:"not null"`
	RepoName        string         `gorm:"not null"`
	SourceBranch    string         `gorm:"not null"`
	TargetBranch    string         `gorm:"not null"`
	SourceLanguages datatypes.JSON
	TargetLanguage  string         `gorm:"not null"`
	Status          string         `gorm:"not null;index"`
	FilesProcessed  int            `gorm:"not null"`
	FilesConverted  int            `gorm:"not null"`
	PRURL           string         `gorm:"column:pr_url"`
	ErrorMessage    string
	Retryable       bool           `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null;index"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		Email:       u.Email,
		GitHubLogin: u.GitHubLogin,
		APIKeyHash:  u.APIKeyHash,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:          m.ID,
		Email:       m.Email,
		GitHubLogin: m.GitHubLogin,
		APIKeyHash:  m.APIKeyHash,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
	}
}

func installationToModel(i domain.Installation) InstallationModel {
	return InstallationModel{
		InstallationID:      i.InstallationID,
		UserID:              i.UserID,
		RepositorySelection: i.RepositorySelection,
		LinkedAt:            i.LinkedAt,
	}
}

func installationFromModel(m InstallationModel) domain.Installation {
	return domain.Installation{
		InstallationID:      m.InstallationID,
		UserID:              m.UserID,
		RepositorySelection: m.RepositorySelection,
		LinkedAt:            m.LinkedAt,
	}
}

func jobToModel(j domain.ConversionJob) ConversionJobModel {
	var langs datatypes.JSON
	if len(j.SourceLanguages) > 0 {
		raw, _ := json.Marshal(j.SourceLanguages)
		langs = datatypes.JSON(raw)
	}
	return ConversionJobModel{
		ID:              j.ID,
		UserID:          j.UserID,
		RepoOwner:       j.RepoOwner,
		RepoName:        j.RepoName,
		SourceBranch:    j.SourceBranch,
		TargetBranch:    j.TargetBranch,
		SourceLanguages: langs,
		TargetLanguage:  j.TargetLanguage,
		Status:          string(j.Status),
		FilesProcessed:  j.FilesProcessed,
		FilesConverted:  j.FilesConverted,
		PRURL:           j.PRURL,
		ErrorMessage:    j.ErrorMessage,
		Retryable:       j.Retryable,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func jobFromModel(m ConversionJobModel) domain.ConversionJob {
	var langs []string
	if len(m.SourceLanguages) > 0 {
		_ = json.Unmarshal([]byte(m.SourceLanguages), &langs)
	}
	return domain.ConversionJob{
		ID:              m.ID,
		UserID:          m.UserID,
		RepoOwner:       m.RepoOwner,
		RepoName:        m.RepoName,
		SourceBranch:    m.SourceBranch,
		TargetBranch:    m.TargetBranch,
		SourceLanguages: langs,
		TargetLanguage:  m.TargetLanguage,
		Status:          domain.JobStatus(m.Status),
		FilesProcessed:  m.FilesProcessed,
		FilesConverted:  m.FilesConverted,
		PRURL:           m.PRURL,
		ErrorMessage:    m.ErrorMessage,
		Retryable:       m.Retryable,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
	}
}
