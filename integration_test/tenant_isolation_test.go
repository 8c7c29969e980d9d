//go:build integration

package integration_test

import (
	"context"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/storage"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
)

func (s *HandoffSuite) TestTenantIsolation() {
	const other = "othercompany"
	otherRepo, err := storage.NewPostgresRepo(s.PostgresDSN, true, other)
	s.Require().NoError(err)
	defer otherRepo.Close(context.Background())
	otherCtx := tenant.WithCompanyID(context.Background(), other)

	lead := model.NewLead(&model.Lead{Phone: "5511966665555"})
	lead.CompanyID = other
	_, err = otherRepo.UpsertLead(otherCtx, *lead)
	s.Require().NoError(err)

	_, err = s.Repo.FindLeadByPhone(s.Ctx, "5511966665555")
	s.True(apperrors.IsNotFoundError(err), "lead of another company must not be visible")

	_, err = otherRepo.FindLeadByPhone(otherCtx, "5511966665555")
	s.NoError(err)
}

func (s *HandoffSuite) TestPostgresRepo_MigrateIsIdempotentAndPings() {
	again, err := storage.NewPostgresRepo(s.PostgresDSN, true, s.CompanyID)
	s.Require().NoError(err)
	defer again.Close(context.Background())

	s.NoError(again.Ping(s.Ctx))
	s.NoError(s.JS.Ping(s.Ctx))
}
