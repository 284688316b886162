// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator/config"
	"github.com/malike2356/abbis-sub018/orchestrator/governance"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/providers"
	"github.com/malike2356/abbis-sub018/orchestrator/llmcontext"
	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// defaultSQLiteDSN is used outside production when DATABASE_URL is unset.
const defaultSQLiteDSN = "file:abbis_assistant.db?_pragma=busy_timeout(5000)"

// Components is the wired service graph. The CLI builds the same graph.
type Components struct {
	Config      *config.Config
	DB          *sql.DB
	BusinessDB  *sql.DB
	Redis       *redis.Client
	Usage       *usage.Store
	ConfigStore llm.ConfigStore
	// ProviderStorage is nil when providers come from the YAML overlay.
	ProviderStorage *llm.PostgresStorage
	Bus             *llm.Bus
	Catalog         *llm.Catalog
	Assembler       *llmcontext.Assembler
	Limiter         *governance.UsageLimiter
	Audit           *governance.AuditLogger
	Assistant       *Assistant
}

// OpenDB opens the provider-config/usage database for driver "postgres"
// or "sqlite".
func OpenDB(driver, dsn string) (*sql.DB, error) {
	name := driver
	if driver == "" {
		name = "postgres"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if name == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}
	return db, nil
}

// OpenConfiguredDB opens DATABASE_URL, or a local SQLite file outside
// production when it is unset.
func OpenConfiguredDB(cfg *config.Config) (*sql.DB, error) {
	driver, dsn := cfg.DatabaseDriver, cfg.DatabaseURL
	if dsn == "" {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL is required when APP_ENV=production")
		}
		driver, dsn = "sqlite", defaultSQLiteDSN
		log.Printf("DATABASE_URL not set, using local SQLite database")
	}
	return OpenDB(driver, dsn)
}

func openBusinessDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open business database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping business database: %w", err)
	}
	return db, nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Build wires every component from cfg. Optional infrastructure (business
// database, Redis, AWS Secrets Manager) is skipped with a warning when it
// cannot be reached.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Config: cfg}

	db, err := OpenConfiguredDB(cfg)
	if err != nil {
		return nil, err
	}
	c.DB = db
	c.Usage = usage.NewStore(db)
	if err := c.Usage.EnsureSchema(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if cfg.BusinessDSN != "" {
		if c.BusinessDB, err = openBusinessDB(cfg.BusinessDSN); err != nil {
			log.Printf("Warning: %v (entity and business intelligence context disabled)", err)
		}
	}
	if cfg.RedisURL != "" {
		if c.Redis, err = openRedis(cfg.RedisURL); err != nil {
			log.Printf("Warning: %v (using SQL usage counter, BI cache disabled)", err)
		}
	}

	keyring, err := buildKeyring(ctx, cfg)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	if f := cfg.File(); f != nil && len(f.LLMProviders) > 0 {
		c.ConfigStore = config.NewFileStore(cfg.ConfigFile)
	} else {
		c.ProviderStorage = llm.NewPostgresStorage(db)
		if err := c.ProviderStorage.EnsureSchema(ctx); err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.ConfigStore = c.ProviderStorage
	}

	factories := providers.WithCompatible(providers.Default(), cfg.Providers...)
	c.Bus = llm.NewBus(nil, nil, llm.WithAttemptObserver(observeAttempt))
	c.Catalog = llm.NewCatalog(c.Bus, factories,
		llm.WithConfigStore(c.ConfigStore),
		llm.WithKeyring(keyring),
		llm.WithEnvDefaults(config.ProviderDefaults(append(append([]string(nil), providers.Builtin...), cfg.Providers...))),
		llm.WithFailoverOverride(cfg.FailoverOrder),
		llm.WithProviderOverride(cfg.Providers),
		llm.OnRefresh(observeCatalogRefresh),
	)
	if err := c.Catalog.Init(ctx); err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to initialize provider catalog: %w", err)
	}

	c.Assembler = buildAssembler(cfg, c.BusinessDB, c.Redis)

	var counter governance.WindowCounter = governance.NewSQLCounter(c.Usage)
	auditOpts := []governance.AuditOption{governance.WithFailureHook(observeAuditFailure)}
	if c.Redis != nil {
		rc := governance.NewRedisCounter(c.Redis, governance.DefaultRetention)
		counter = rc
		auditOpts = append(auditOpts, governance.WithActionRecorder(rc))
	}
	c.Limiter = governance.NewUsageLimiter(counter, governance.LimiterConfig{
		HourlyLimit: cfg.HourlyLimit,
		DailyLimit:  cfg.DailyLimit,
		FailOpen:    cfg.UsageFailOpen(),
	}, governance.WithRejectHook(observeLimiterRejection))

	c.Audit, err = governance.NewAuditLogger(c.Usage, governance.AuditConfig{
		Async:        cfg.AuditAsync,
		QueueSize:    cfg.AuditQueueSize,
		FallbackPath: cfg.AuditFallbackPath,
	}, auditOpts...)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.Assistant = NewAssistant(c.Bus, c.Assembler, c.Limiter, c.Audit,
		WithPromptTemplate(NewPromptTemplate(cfg.PromptTemplatePath)),
		WithOrganisationName(cfg.OrganisationName()),
	)
	return c, nil
}

func buildKeyring(ctx context.Context, cfg *config.Config) (*secrets.Keyring, error) {
	var cipher *secrets.Cipher
	if cfg.EncryptionKey != "" {
		var err error
		if cipher, err = secrets.NewCipher(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("invalid AI_ENCRYPTION_KEY: %w", err)
		}
	}
	var store secrets.Store
	if cfg.AWSRegion != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, secrets.AWSOptions{Region: cfg.AWSRegion})
		if err != nil {
			log.Printf("Warning: AWS Secrets Manager unavailable: %v", err)
		} else {
			store = sm
		}
	}
	return secrets.NewKeyring(cipher, store), nil
}

// buildAssembler registers the context builders. Builders that need the
// business database are registered only when it is reachable.
func buildAssembler(cfg *config.Config, businessDB *sql.DB, rdb *redis.Client) *llmcontext.Assembler {
	var q llmcontext.Querier
	if businessDB != nil {
		q = businessDB
	}

	a := llmcontext.NewAssembler(cfg.ContextTokenBudget,
		llmcontext.NewUserBuilder(),
		llmcontext.NewOrganisationBuilder(q, cfg.OrganisationName()),
		llmcontext.NewPageBuilder(),
	)
	if q == nil {
		return a
	}

	var cache llmcontext.SliceCache
	if rdb != nil {
		cache = llmcontext.NewRedisSliceCache(rdb, "bi", cfg.BICacheTTL)
	}
	a.Register(
		llmcontext.NewEntityBuilder(q),
		llmcontext.NewBusinessIntelligenceBuilder(q, cache),
	)
	return a
}

// Close drains the audit queue and releases connections.
func (c *Components) Close(ctx context.Context) {
	if c.Audit != nil {
		if err := c.Audit.Close(ctx); err != nil {
			log.Printf("Audit queue did not drain: %v", err)
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.BusinessDB != nil {
		_ = c.BusinessDB.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}

// Run starts the assistant HTTP service and blocks until SIGINT/SIGTERM.
func Run() {
	log.Println("Starting ABBIS assistant service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	server := NewServer(components.Assistant, components.Catalog, []byte(cfg.JWTSecret), cfg.CORSOrigins)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Assistant service listening on port %s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down assistant service...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	components.Close(shutdownCtx)
	log.Println("Assistant service stopped")
}
