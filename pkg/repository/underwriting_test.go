package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestUnderwritingRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Underwriting Repository Suite")
}

var underwritingColumns = []string{
	"id", "organization_id", "serial_number", "status",
	"merchant_name", "merchant_ein", "merchant_industry", "merchant_email",
	"merchant_phone", "merchant_website", "merchant_entity_type",
	"merchant_incorporation_date", "merchant_state_of_incorporation",
	"created_at", "updated_at",
}

var ownerColumns = []string{
	"id", "underwriting_id", "first_name", "last_name", "email", "phone", "ssn",
	"ownership_percent", "primary_owner", "enabled",
}

var documentColumns = []string{"id", "underwriting_id", "status", "stipulation_type", "current_revision_id"}

var _ = Describe("UnderwritingRepository", func() {
	var (
		repo   *UnderwritingRepository
		mockDB *sqlx.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		raw, m, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		mockDB = sqlx.NewDb(raw, "pgx")
		mock = m
		repo = NewUnderwritingRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("GetUnderwritingWithDetails", func() {
		It("loads the underwriting plus its owners and documents", func() {
			underwritingID := uuid.New()
			now := time.Now()

			mock.ExpectQuery(`SELECT (.|\n)+FROM underwritings`).
				WithArgs(underwritingID).
				WillReturnRows(sqlmock.NewRows(underwritingColumns).AddRow(
					underwritingID, uuid.New(), "SN-001", "processing",
					"Acme Corp", "12-3456789", "retail", "a@acme.test",
					"555-0100", "acme.test", "llc", nil, "DE", now, now,
				))

			mock.ExpectQuery(`SELECT (.|\n)+FROM owners`).
				WithArgs(underwritingID).
				WillReturnRows(sqlmock.NewRows(ownerColumns).AddRow(
					uuid.New(), underwritingID, "Jane", "Doe", "jane@acme.test", "555-0101", "",
					100.0, true, true,
				))

			mock.ExpectQuery(`SELECT (.|\n)+FROM documents`).
				WithArgs(underwritingID).
				WillReturnRows(sqlmock.NewRows(documentColumns))

			uw, err := repo.GetUnderwritingWithDetails(ctx, underwritingID)
			Expect(err).ToNot(HaveOccurred())
			Expect(uw).ToNot(BeNil())
			Expect(uw.Owners).To(HaveLen(1))
			Expect(uw.Owners[0].FirstName).To(Equal("Jane"))
			Expect(uw.Documents).To(BeEmpty())
		})

		It("returns nil without error when no underwriting matches", func() {
			mock.ExpectQuery(`SELECT (.|\n)+FROM underwritings`).
				WithArgs(sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows(underwritingColumns))

			uw, err := repo.GetUnderwritingWithDetails(ctx, uuid.New())
			Expect(err).ToNot(HaveOccurred())
			Expect(uw).To(BeNil())
		})
	})

	Describe("GetStaleProcessingUnderwritings", func() {
		It("returns the ids stuck in processing past the cutoff", func() {
			staleID := uuid.New()
			cutoff := time.Now().Add(-30 * time.Minute)

			mock.ExpectQuery(`SELECT id FROM underwritings`).
				WithArgs(cutoff).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(staleID))

			ids, err := repo.GetStaleProcessingUnderwritings(ctx, cutoff)
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(ConsistOf(staleID))
		})
	})
})
