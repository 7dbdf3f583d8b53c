package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProcessorRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Processor Repository Suite")
}

var underwritingProcessorColumns = []string{
	"id", "organization_id", "underwriting_id", "organization_processor_id",
	"processor", "name", "auto", "enabled", "config_override", "current_executions_list",
}

var _ = Describe("ProcessorRepository", func() {
	var (
		repo   *ProcessorRepository
		mockDB *sqlx.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		raw, m, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		mockDB = sqlx.NewDb(raw, "pgx")
		mock = m
		repo = NewProcessorRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("GetUnderwritingProcessors", func() {
		It("applies enabled/auto filters to the query", func() {
			underwritingID := uuid.New()
			rows := sqlmock.NewRows(underwritingProcessorColumns).AddRow(
				uuid.New(), uuid.New(), underwritingID, uuid.New(),
				"test_application_processor", "Application", true, true, []byte(`{}`), "{}",
			)

			mock.ExpectQuery(`SELECT (.|\n)+FROM underwriting_processors(.|\n)+AND enabled = true(.|\n)+AND auto = true`).
				WithArgs(underwritingID).
				WillReturnRows(rows)

			list, err := repo.GetUnderwritingProcessors(ctx, underwritingID, true, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Processor).To(Equal("test_application_processor"))
		})
	})

	Describe("GetUnderwritingProcessorByID", func() {
		It("returns nil without error when the instance doesn't exist", func() {
			mock.ExpectQuery(`SELECT (.|\n)+FROM underwriting_processors(.|\n)+WHERE id = \$1`).
				WithArgs(sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows(underwritingProcessorColumns))

			up, err := repo.GetUnderwritingProcessorByID(ctx, uuid.New())
			Expect(err).ToNot(HaveOccurred())
			Expect(up).To(BeNil())
		})
	})

	Describe("GetEffectiveConfig", func() {
		It("merges organization config beneath the per-case override", func() {
			upID := uuid.New()
			mock.ExpectQuery(`SELECT op.config(.|\n)+FROM underwriting_processors up`).
				WithArgs(upID).
				WillReturnRows(sqlmock.NewRows([]string{"config", "config_override"}).
					AddRow([]byte(`{"threshold":10,"retries":2}`), []byte(`{"threshold":20}`)))

			cfg, err := repo.GetEffectiveConfig(ctx, upID)
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg["threshold"]).To(Equal(float64(20)))
			Expect(cfg["retries"]).To(Equal(float64(2)))
		})
	})

	Describe("UpdateCurrentExecutionsList", func() {
		It("overwrites the tracking column with the given ids", func() {
			upID := uuid.New()
			execID := uuid.New()
			mock.ExpectExec(`UPDATE underwriting_processors`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.UpdateCurrentExecutionsList(ctx, upID, []uuid.UUID{execID})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("SetUnderwritingProcessorEnabled", func() {
		It("flips the enabled flag on a single instance", func() {
			upID := uuid.New()
			mock.ExpectExec(`UPDATE underwriting_processors SET enabled`).
				WithArgs(true, upID).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.SetUnderwritingProcessorEnabled(ctx, upID, true)).To(Succeed())
		})
	})
})
