package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

var leadColumns = []string{"id", "lead_id", "company_id", "phone", "name", "score", "classification", "status", "version"}

func TestPostgresRepo_UpsertLead(t *testing.T) {
	t.Run("inserts a new lead", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "leads" .*ON CONFLICT .*DO NOTHING`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		mock.ExpectCommit()

		got, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-1", CompanyID: testTenantID, Phone: "5511999990001", Name: "Ana"})
		require.NoError(t, err)
		assert.Equal(t, "lead-1", got.LeadID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing lead without a name picks one up", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "leads"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`SELECT \* FROM "leads" WHERE phone = `).
			WillReturnRows(sqlmock.NewRows(leadColumns).
				AddRow(3, "lead-old", testTenantID, "5511999990001", "", 40, "cold", "qualifying", 4))
		mock.ExpectExec(`UPDATE "leads" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-new", CompanyID: testTenantID, Phone: "5511999990001", Name: "Ana"})
		require.NoError(t, err)
		assert.Equal(t, "lead-old", got.LeadID)
		assert.Equal(t, "Ana", got.Name)
		assert.Equal(t, 40, got.Score)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tenant mismatch", func(t *testing.T) {
		repo, mock := newTestRepo(t)

		_, err := repo.UpsertLead(tenantContext(), model.Lead{LeadID: "lead-1", CompanyID: "other", Phone: "5511999990001"})
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_ApplyLeadScore(t *testing.T) {
	next := model.Lead{
		LeadID:         "lead-1",
		CompanyID:      testTenantID,
		Score:          70,
		Classification: model.ClassificationWarm,
		Status:         model.LeadStatusQualifying,
		Attributes:     model.LeadAttributes{HasPrecatorio: true, AssetValue: 25000},
	}

	t.Run("writes lead and score log", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "leads" SET .* WHERE lead_id = .* AND version = `).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO "score_logs"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		scoreLog := &model.ScoreLog{LogID: "score-1", CompanyID: testTenantID, LeadID: "lead-1", PreviousScore: 10, NewScore: 70}
		got, err := repo.ApplyLeadScore(ctx, next, 2, scoreLog)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Version)
		assert.Equal(t, 70, got.Score)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version writes nothing", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "leads" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.ApplyLeadScore(ctx, next, 2, &model.ScoreLog{LogID: "score-2"})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_FindLeadByPhone(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE phone = `).
		WithArgs("5511999990001", testTenantID, 1).
		WillReturnRows(sqlmock.NewRows(leadColumns).
			AddRow(3, "lead-1", testTenantID, "5511999990001", "Ana", 85, "hot", "qualified", 7))

	got, err := repo.FindLeadByPhone(tenantContext(), "5511999990001")
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationHot, got.Classification)
	assert.Equal(t, int64(7), got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
