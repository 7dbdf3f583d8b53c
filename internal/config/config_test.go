package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
postgres:
  host: "db.internal"
  port: 5433
  user: "uw_user"
  database: "underwriting"
  ssl_mode: "require"

broker:
  addr: "redis.internal:6379"
  consumer_group: "processor-engine"
  ack_deadline: 60s

execution:
  worker_pool_size: 8

http:
  port: "9090"

logging:
  level: "debug"
  format: "console"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Postgres.Host).To(Equal("db.internal"))
				Expect(cfg.Postgres.Port).To(Equal(5433))
				Expect(cfg.Postgres.User).To(Equal("uw_user"))
				Expect(cfg.Postgres.SSLMode).To(Equal("require"))

				Expect(cfg.Broker.Addr).To(Equal("redis.internal:6379"))
				Expect(cfg.Broker.AckDeadline).To(Equal(60 * time.Second))

				Expect(cfg.Execution.WorkerPoolSize).To(Equal(8))
				Expect(cfg.HTTP.Port).To(Equal("9090"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
postgres:
  host: "localhost"
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Postgres.Host).To(Equal("localhost"))
				Expect(cfg.Postgres.Port).To(Equal(5432))
				Expect(cfg.Execution.WorkerPoolSize).To(Equal(5))
				Expect(cfg.Broker.AckDeadline).To(Equal(60 * time.Second))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := "postgres:\n  host: [\nbroker:\n  addr: test\n"
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = Default()
		})

		It("passes for the default config", func() {
			Expect(validate(cfg)).To(Succeed())
		})

		It("rejects an empty postgres host", func() {
			cfg.Postgres.Host = ""
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("postgres host is required"))
		})

		It("rejects an out-of-range postgres port", func() {
			cfg.Postgres.Port = 0
			Expect(validate(cfg)).To(MatchError(ContainSubstring("postgres port must be between 1 and 65535")))
		})

		It("rejects a non-positive worker pool size", func() {
			cfg.Execution.WorkerPoolSize = 0
			Expect(validate(cfg)).To(MatchError(ContainSubstring("worker pool size must be greater than 0")))
		})

		It("rejects a non-positive ack deadline", func() {
			cfg.Broker.AckDeadline = 0
			Expect(validate(cfg)).To(MatchError(ContainSubstring("ack deadline must be greater than 0")))
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = Default()
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		It("overrides values from the environment", func() {
			os.Setenv("POSTGRES_HOST", "env-host")
			os.Setenv("POSTGRES_PORT", "6000")
			os.Setenv("WORKER_POOL_SIZE", "12")
			os.Setenv("ACK_DEADLINE_SECONDS", "90")
			os.Setenv("LOG_LEVEL", "warn")

			Expect(loadFromEnv(cfg)).To(Succeed())

			Expect(cfg.Postgres.Host).To(Equal("env-host"))
			Expect(cfg.Postgres.Port).To(Equal(6000))
			Expect(cfg.Execution.WorkerPoolSize).To(Equal(12))
			Expect(cfg.Broker.AckDeadline).To(Equal(90 * time.Second))
			Expect(cfg.Logging.Level).To(Equal("warn"))
		})

		It("leaves defaults untouched when nothing is set", func() {
			original := *cfg
			Expect(loadFromEnv(cfg)).To(Succeed())
			Expect(*cfg).To(Equal(original))
		})

		It("errors on an invalid POSTGRES_PORT", func() {
			os.Setenv("POSTGRES_PORT", "not-a-number")
			Expect(loadFromEnv(cfg)).To(MatchError(ContainSubstring("invalid POSTGRES_PORT")))
		})
	})
})
