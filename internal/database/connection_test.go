package database

import (
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func TestDatabase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Database Configuration Suite")
}

var _ = Describe("Database Configuration", func() {
	Describe("DefaultConfig", func() {
		It("should return correct default values", func() {
			config := DefaultConfig()

			Expect(config.Host).To(Equal("localhost"))
			Expect(config.Port).To(Equal(5432))
			Expect(config.User).To(Equal("processor"))
			Expect(config.Database).To(Equal("underwriting"))
			Expect(config.SSLMode).To(Equal("disable"))
			Expect(config.MaxOpenConns).To(Equal(25))
			Expect(config.MaxIdleConns).To(Equal(5))
			Expect(config.ConnMaxLifetime).To(Equal(5 * time.Minute))
		})
	})

	Describe("LoadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = DefaultConfig()
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when all environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("POSTGRES_HOST", "testhost")
				os.Setenv("POSTGRES_PORT", "6543")
				os.Setenv("POSTGRES_USER", "testuser")
				os.Setenv("POSTGRES_PASSWORD", "testpass")
				os.Setenv("POSTGRES_DB", "testdb")
			})

			It("should load values from environment", func() {
				config.LoadFromEnv()

				Expect(config.Host).To(Equal("testhost"))
				Expect(config.Port).To(Equal(6543))
				Expect(config.User).To(Equal("testuser"))
				Expect(config.Password).To(Equal("testpass"))
				Expect(config.Database).To(Equal("testdb"))
			})
		})

		Context("when POSTGRES_PORT has an invalid value", func() {
			BeforeEach(func() {
				os.Setenv("POSTGRES_PORT", "invalid_port")
			})

			It("should keep the default port value", func() {
				originalPort := config.Port
				config.LoadFromEnv()
				Expect(config.Port).To(Equal(originalPort))
			})
		})
	})

	Describe("Validate", func() {
		var config *Config

		BeforeEach(func() {
			config = DefaultConfig()
		})

		It("should pass validation for the default config", func() {
			Expect(config.Validate()).To(Succeed())
		})

		It("should reject an empty host", func() {
			config.Host = ""
			Expect(config.Validate()).To(MatchError(ContainSubstring("database host is required")))
		})

		It("should reject an out-of-range port", func() {
			config.Port = 70000
			Expect(config.Validate()).To(MatchError(ContainSubstring("database port must be between 1 and 65535")))
		})

		It("should reject a non-positive max open connections", func() {
			config.MaxOpenConns = 0
			Expect(config.Validate()).To(MatchError(ContainSubstring("max open connections must be greater than 0")))
		})

		It("should reject a negative max idle connections", func() {
			config.MaxIdleConns = -1
			Expect(config.Validate()).To(MatchError(ContainSubstring("max idle connections must be non-negative")))
		})
	})

	Describe("ConnectionString", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Host:     "localhost",
				Port:     5432,
				User:     "testuser",
				Database: "testdb",
				SSLMode:  "disable",
			}
		})

		It("should include the password when provided", func() {
			config.Password = "testpass"
			Expect(config.ConnectionString()).To(Equal(
				"host=localhost port=5432 user=testuser dbname=testdb sslmode=disable password=testpass"))
		})

		It("should exclude the password parameter entirely when empty", func() {
			result := config.ConnectionString()
			Expect(result).To(Equal("host=localhost port=5432 user=testuser dbname=testdb sslmode=disable"))
			Expect(result).NotTo(ContainSubstring("password="))
		})
	})

	Describe("Connect", func() {
		It("should return an error for invalid configuration without dialing", func() {
			logger := zap.NewNop()
			config := &Config{Host: "", Port: 5432, User: "testuser"}

			_, err := Connect(config, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid database configuration"))
		})
	})
})
