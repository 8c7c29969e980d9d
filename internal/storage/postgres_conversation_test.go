package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

var conversationColumns = []string{
	"id", "conversation_id", "company_id", "lead_id", "channel", "status",
	"assigned_agent_id", "assigned_agent_name", "priority", "transferred_at", "metadata", "version",
}

func TestPostgresRepo_SwapConversation(t *testing.T) {
	t.Run("writes control columns and transfer log in one transaction", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		now := time.Now().UTC()
		next := model.Conversation{
			ConversationID: "conv-1",
			CompanyID:      testTenantID,
			LeadID:         "lead-1",
			Status:         model.StatusTransferred,
			Priority:       model.PriorityHigh,
			TransferredAt:  &now,
			Metadata: model.ControlMetadata{
				Last:     model.MetaTransfer,
				Transfer: &model.TransferMeta{TransferredAt: now, TransferredBy: "system", Priority: model.PriorityHigh},
			},
		}
		transferLog := &model.TransferLog{
			LogID:          "log-1",
			CompanyID:      testTenantID,
			ConversationID: "conv-1",
			FromStatus:     model.StatusActive,
			ToStatus:       model.StatusTransferred,
		}

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations" SET .* WHERE conversation_id = .* AND company_id = .* AND version = `).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO "transfer_logs"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		got, err := repo.SwapConversation(ctx, next, 3, transferLog)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Version)
		assert.Equal(t, model.StatusTransferred, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict and rolls back", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		next := model.Conversation{ConversationID: "conv-1", CompanyID: testTenantID, Status: model.StatusPaused}
		got, err := repo.SwapConversation(ctx, next, 1, nil)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("assigned but not transferred is rejected before writing", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		next := model.Conversation{ConversationID: "conv-1", CompanyID: testTenantID, Status: model.StatusActive}
		next.SetAssignee("agent-1", "Ana")

		_, err := repo.SwapConversation(ctx, next, 1, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_ClaimNextConversation(t *testing.T) {
	assign := model.AssignMeta{AssignedAt: time.Now().UTC(), AssignedBy: "agent-1", AgentID: "agent-1", AgentName: "Ana"}

	t.Run("returns the claimed conversation", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		transferredAt := time.Now().UTC().Add(-time.Minute)
		rows := sqlmock.NewRows(conversationColumns).
			AddRow(7, "conv-7", testTenantID, "lead-7", "evolution", "transferred",
				"agent-1", "Ana", "high", transferredAt, `{"last":"assign","assign":{"agent_id":"agent-1"}}`, 5)
		mock.ExpectQuery(`UPDATE conversations SET(.|\n)*FOR UPDATE SKIP LOCKED(.|\n)*RETURNING \*`).
			WithArgs("agent-1", "Ana", AnyJSON{}, AnyTime{}, testTenantID).
			WillReturnRows(rows)

		got, err := repo.ClaimNextConversation(ctx, assign)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "conv-7", got.ConversationID)
		assert.Equal(t, "agent-1", got.AssigneeID())
		assert.Equal(t, model.MetaAssign, got.Metadata.Last)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue is not an error", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectQuery(`UPDATE conversations SET`).
			WillReturnRows(sqlmock.NewRows(conversationColumns))

		got, err := repo.ClaimNextConversation(ctx, assign)
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_AssignConversationIfUnassigned(t *testing.T) {
	assign := model.AssignMeta{AssignedAt: time.Now().UTC(), AgentID: "agent-2", AgentName: "Bia"}

	t.Run("already assigned", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations" SET .*assigned_agent_id IS NULL`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE conversation_id = `).
			WillReturnRows(sqlmock.NewRows(conversationColumns).
				AddRow(1, "conv-1", testTenantID, "lead-1", "evolution", "transferred", "agent-1", "Ana", "medium", time.Now(), `{}`, 2))
		mock.ExpectRollback()

		_, err := repo.AssignConversationIfUnassigned(ctx, "conv-1", assign)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown conversation", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT \* FROM "conversations"`).
			WillReturnRows(sqlmock.NewRows(conversationColumns))
		mock.ExpectRollback()

		_, err := repo.AssignConversationIfUnassigned(ctx, "missing", assign)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_UpdateConversationPriority(t *testing.T) {
	t.Run("not in queue", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := tenantContext()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations" SET .*jsonb_set`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT \* FROM "conversations"`).
			WillReturnRows(sqlmock.NewRows(conversationColumns).
				AddRow(1, "conv-1", testTenantID, "lead-1", "evolution", "active", nil, "", "", nil, `{}`, 2))
		mock.ExpectRollback()

		_, err := repo.UpdateConversationPriority(ctx, "conv-1", model.PriorityHigh)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown priority is rejected without a query", func(t *testing.T) {
		repo, mock := newTestRepo(t)

		_, err := repo.UpdateConversationPriority(tenantContext(), "conv-1", model.Priority("urgent"))
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_ListTransferredConversations(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := tenantContext()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE .*status = .*ORDER BY CASE priority`).
		WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow(1, "conv-a", testTenantID, "lead-a", "evolution", "transferred", nil, "", "high", base.Add(30*time.Minute), `{}`, 2).
			AddRow(2, "conv-b", testTenantID, "lead-b", "official", "transferred", "agent-1", "Ana", "low", base, `{}`, 3))
	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE .*lead_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lead_id", "company_id", "phone", "name", "score", "classification"}).
			AddRow(10, "lead-a", testTenantID, "5511999990001", "Ana Lead", 85, "hot"))

	rows, err := repo.ListTransferredConversations(ctx, model.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "conv-a", rows[0].Conversation.ConversationID)
	assert.Equal(t, 85, rows[0].Lead.Score)
	// missing lead rows still yield an item
	assert.Equal(t, "lead-b", rows[1].Lead.LeadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_OpenConversation_ReturnsExisting(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := tenantContext()

	mock.ExpectQuery(`INSERT INTO "conversations" .*ON CONFLICT .*WHERE status <> 'completed' DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE lead_id = `).
		WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow(4, "conv-existing", testTenantID, "lead-1", "evolution", "paused", nil, "", "", nil, `{"last":"pause"}`, 6))

	got, err := repo.OpenConversation(ctx, model.Conversation{
		ConversationID: "conv-new",
		CompanyID:      testTenantID,
		LeadID:         "lead-1",
		Channel:        model.ChannelEvolution,
		Status:         model.StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "conv-existing", got.ConversationID)
	assert.Equal(t, model.StatusPaused, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindConversation_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE conversation_id = `).
		WillReturnRows(sqlmock.NewRows(conversationColumns))

	_, err := repo.FindConversation(tenantContext(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
