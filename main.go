package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"petition-hand/config"
	"petition-hand/docservice"
	"petition-hand/models"
	"petition-hand/services"
	"petition-hand/storage"
	"petition-hand/validators"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	documentsGeneratedCounter prometheus.Counter
	generationFailuresCounter prometheus.Counter
	autofillFieldsCounter     prometheus.Counter
)

func init() {
	documentsGeneratedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "documents_generated_total",
			Help: "Total number of successfully generated petition documents.",
		},
	)
	generationFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Total number of generation jobs that ended in FAILURE.",
		},
	)
	autofillFieldsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autofill_fields_written_total",
			Help: "Total number of form fields written by autofill.",
		},
	)
	prometheus.MustRegister(documentsGeneratedCounter, generationFailuresCounter, autofillFieldsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Client{}, &models.Authority{}, &models.Template{}, &models.Placeholder{}, &models.GenerationJob{})

	seedDefaultAuthorities(db, logging)

	// Setup Services
	kv := storage.NewKV(cfg.DraftDir, logging)
	registry := services.NewFormRegistry(cfg, kv, logging)

	clientResolver := services.NewResolver(cfg, services.NewClientDirectory(db, logging), logging)
	authorityResolver := services.NewResolver(cfg, services.NewAuthorityDirectory(db, logging), logging)
	if err := clientResolver.LoadSnapshot(context.Background()); err != nil {
		logging.Warn("Client snapshot unavailable at startup", zap.Error(err))
	}
	if err := authorityResolver.LoadSnapshot(context.Background()); err != nil {
		logging.Warn("Authority snapshot unavailable at startup", zap.Error(err))
	}

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	archiver := &storage.Archiver{Client: s3Client, Cfg: cfg}

	docClient := docservice.NewClient(cfg, logging)
	generator := services.NewGenerator(cfg, db, docClient, registry, archiver, logging)
	autofill := services.NewAutofill(logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupClientRoutes(router, db, clientResolver, logging)
	setupAuthorityRoutes(router, db, authorityResolver, logging)
	setupTemplateRoutes(router, db, logging)
	setupPlaceholderRoutes(router, logging)
	setupFormRoutes(router, db, registry, clientResolver, authorityResolver, autofill, logging)
	setupGenerationRoutes(router, db, registry, generator, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.DraftPurgeCron, func() {
		logging.Info("Running scheduled draft purge...")
		count := registry.PurgeStaleDrafts()
		logging.Info("Draft purge completed", zap.Int("purged", count))
	})
	cronScheduler.AddFunc(cfg.JobReaperCron, func() {
		if count := generator.ReapStuckJobs(); count > 0 {
			generationFailuresCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupClientRoutes(router *gin.Engine, db *gorm.DB, resolver *services.Resolver, log *zap.Logger) {
	rg := router.Group("/clients")

	rg.GET("/all", func(c *gin.Context) {
		var clients []models.Client
		if err := db.Find(&clients).Error; err != nil {
			log.Error("Database query for all clients failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, clients)
	})

	rg.POST("/", func(c *gin.Context) {
		var client models.Client
		if err := c.ShouldBindJSON(&client); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if !validators.ValidateNationalID(validators.Person, client.CPF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cpf"})
			return
		}
		if !validators.ValidateNationalID(validators.Company, client.CNPJ) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cnpj"})
			return
		}
		client.CPF = validators.OnlyDigits(client.CPF)
		client.CNPJ = validators.OnlyDigits(client.CNPJ)
		if err := db.Create(&client).Error; err != nil {
			log.Error("Failed to create client", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create client"})
			return
		}
		c.JSON(http.StatusCreated, client)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var client models.Client
		if err := db.First(&client, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
				return
			}
			log.Error("DB error checking for client on PUT", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&client).Updates(updateData).Error; err != nil {
			log.Error("DB error updating client", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update client"})
			return
		}
		c.JSON(http.StatusOK, client)
	})

	// GET /clients/search?field=claimant_cpf&q=111.444.777-35
	rg.GET("/search", func(c *gin.Context) {
		field := c.Query("field")
		query := c.Query("q")
		if query == "" {
			query = c.Query("cpf")
		}
		if query == "" {
			query = c.Query("name")
		}
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' required"})
			return
		}
		result, err := resolver.SearchField(c.Request.Context(), field, query)
		if err != nil {
			if errors.Is(err, services.ErrSuperseded) {
				c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer search"})
				return
			}
			log.Error("Client search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	rg.POST("/reload", func(c *gin.Context) {
		if err := resolver.LoadSnapshot(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "snapshot reload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "client snapshot reloaded"})
	})
}

func setupAuthorityRoutes(router *gin.Engine, db *gorm.DB, resolver *services.Resolver, log *zap.Logger) {
	rg := router.Group("/authorities")

	rg.GET("/all", func(c *gin.Context) {
		var authorities []models.Authority
		if err := db.Find(&authorities).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, authorities)
	})

	rg.POST("/", func(c *gin.Context) {
		var authority models.Authority
		if err := c.ShouldBindJSON(&authority); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if !validators.ValidateNationalID(validators.Company, authority.CNPJ) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cnpj"})
			return
		}
		authority.CNPJ = validators.OnlyDigits(authority.CNPJ)
		if err := db.Create(&authority).Error; err != nil {
			log.Error("Failed to create authority", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create authority"})
			return
		}
		c.JSON(http.StatusCreated, authority)
	})

	// GET /authorities/search?field=authority_name&name=detran&autocomplete=1
	rg.GET("/search", func(c *gin.Context) {
		field := c.Query("field")
		query := c.Query("q")
		if query == "" {
			query = c.Query("name")
		}
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' required"})
			return
		}
		if c.Query("autocomplete") == "1" {
			c.JSON(http.StatusOK, gin.H{"candidates": resolver.Autocomplete(query)})
			return
		}
		result, err := resolver.SearchField(c.Request.Context(), field, query)
		if err != nil {
			if errors.Is(err, services.ErrSuperseded) {
				c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer search"})
				return
			}
			log.Error("Authority search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupTemplateRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/templates")

	rg.GET("/", func(c *gin.Context) {
		var templates []models.Template
		if err := db.Find(&templates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, templates)
	})

	rg.POST("/", func(c *gin.Context) {
		var template models.Template
		if err := c.ShouldBindJSON(&template); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		// Placeholder categories are assigned at creation so every later
		// load renders the same grouping.
		template.Placeholders = services.PreparePlaceholders(template.Placeholders)
		if err := db.Create(&template).Error; err != nil {
			log.Error("Failed to create template", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create template"})
			return
		}
		c.JSON(http.StatusCreated, template)
	})

	rg.GET("/:slug", func(c *gin.Context) {
		slug := c.Param("slug")
		var template models.Template
		if err := db.Preload("Placeholders").Where("slug = ?", slug).First(&template).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, template)
	})
}

func setupPlaceholderRoutes(router *gin.Engine, log *zap.Logger) {
	rg := router.Group("/placeholders")

	// POST - Categorize a batch of raw placeholder keys
	rg.POST("/categorize", func(c *gin.Context) {
		var req struct {
			Keys []string `json:"keys" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'keys' field is required."})
			return
		}

		type categorized struct {
			Key         string `json:"key"`
			Category    string `json:"category"`
			EntityIndex *int   `json:"entity_index,omitempty"`
		}
		out := make([]categorized, 0, len(req.Keys))
		for _, key := range req.Keys {
			cat, idx := services.Categorize(key)
			out = append(out, categorized{Key: key, Category: string(cat), EntityIndex: idx})
		}
		c.JSON(http.StatusOK, gin.H{"placeholders": out})
	})
}

func setupFormRoutes(router *gin.Engine, db *gorm.DB, registry *services.FormRegistry,
	clientResolver, authorityResolver *services.Resolver, autofill *services.Autofill, log *zap.Logger) {
	rg := router.Group("/forms")

	// POST - Open a form session for a template. Reports a pending draft
	// exactly once; the caller decides whether to apply it.
	rg.POST("/:slug/open", func(c *gin.Context) {
		slug := c.Param("slug")
		var req struct {
			TemplateSlug string            `json:"template_slug" binding:"required"`
			Initial      map[string]string `json:"initial"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var template models.Template
		if err := db.Preload("Placeholders").Where("slug = ?", req.TemplateSlug).First(&template).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		draft, hasDraft := registry.PendingDraft(slug)
		session := registry.Open(slug, req.TemplateSlug, req.Initial)

		var required []string
		for _, p := range template.Placeholders {
			if p.Required {
				required = append(required, p.Key)
			}
		}
		session.SetRequired(required)

		groups := services.GroupPlaceholders(template.Placeholders, registry.CustomOrder(req.TemplateSlug))

		resp := gin.H{
			"slug":   slug,
			"phase":  session.Phase(),
			"groups": groups,
		}
		if hasDraft {
			resp["draft"] = draft
		}
		c.JSON(http.StatusOK, resp)
	})

	// PUT - Apply user field edits
	rg.PUT("/:slug/fields", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		var req map[string]string
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		var fieldErrors []validators.FieldError
		for key, value := range req {
			session.SetField(key, validators.FormatField(key, value), false)
			if ok, msg := validators.ValidateField(key, session.Value(key)); !ok {
				fieldErrors = append(fieldErrors, validators.FieldError{Key: key, Message: msg})
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"phase":        session.Phase(),
			"field_errors": fieldErrors,
		})
	})

	// POST - Autofill from a resolved identity
	rg.POST("/:slug/autofill", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		var req struct {
			Kind        string `json:"kind" binding:"required"` // client | authority
			Document    string `json:"document" binding:"required"`
			EntityIndex *int   `json:"entity_index"`
			Overwrite   bool   `json:"overwrite"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		resolver := clientResolver
		if req.Kind == "authority" {
			resolver = authorityResolver
		}
		identity, err := resolver.ResolveExact(c.Request.Context(), req.Document)
		if err != nil || identity == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no record found for document"})
			return
		}

		written, fieldErrors := autofill.Apply(session, *identity, req.EntityIndex, req.Overwrite)
		autofillFieldsCounter.Add(float64(written))
		c.JSON(http.StatusOK, gin.H{
			"fields_written": written,
			"field_errors":   fieldErrors,
			"values":         session.Values(),
		})
	})

	// POST - Save the session as a draft
	rg.POST("/:slug/draft", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		if err := registry.SaveDraft(session); err != nil {
			log.Error("Failed to save draft", zap.String("slug", session.Slug), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save draft"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "draft saved", "phase": session.Phase()})
	})

	// PUT - Persist a custom field ordering for the session's template
	rg.PUT("/:slug/order", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		var req struct {
			Keys []string `json:"keys" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := registry.SetCustomOrder(session.TemplateSlug, req.Keys); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist field order"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "field order saved"})
	})

	rg.DELETE("/:slug/order", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		registry.ResetCustomOrder(session.TemplateSlug)
		c.JSON(http.StatusOK, gin.H{"message": "field order reset"})
	})

	// GET - Session phase and navigation guard
	rg.GET("/:slug/state", func(c *gin.Context) {
		session, ok := registry.Session(c.Param("slug"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"phase":             session.Phase(),
			"dirty":             session.Dirty(),
			"can_navigate_away": session.CanNavigateAway(),
			"changed":           session.Changed(),
			"values":            session.Values(),
		})
	})

	// DELETE - Discard the session without saving
	rg.DELETE("/:slug", func(c *gin.Context) {
		registry.Discard(c.Param("slug"))
		c.JSON(http.StatusOK, gin.H{"message": "form discarded"})
	})
}

func setupGenerationRoutes(router *gin.Engine, db *gorm.DB, registry *services.FormRegistry,
	generator *services.Generator, log *zap.Logger) {

	// Cancel functions of running watches, keyed by job id.
	var watchMu sync.Mutex
	watches := map[string]context.CancelFunc{}

	// POST - Validate and submit the form, then watch the job in the
	// background until it reaches a terminal state.
	router.POST("/generate", func(c *gin.Context) {
		var req struct {
			Slug     string   `json:"slug" binding:"required"`
			Required []string `json:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		session, ok := registry.Session(req.Slug)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "form session not open"})
			return
		}

		job, fieldErrors, err := generator.Submit(c.Request.Context(), session, req.Required)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":        "validation failed",
					"field_errors": fieldErrors,
				})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "document service unavailable, please retry"})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		watchMu.Lock()
		watches[job.ID] = cancel
		watchMu.Unlock()

		go func() {
			defer func() {
				watchMu.Lock()
				delete(watches, job.ID)
				watchMu.Unlock()
				cancel()
			}()
			finished, err := generator.Watch(ctx, job, session)
			if err != nil {
				return // canceled
			}
			if finished.Status == models.JobSuccess {
				documentsGeneratedCounter.Inc()
			} else {
				generationFailuresCounter.Inc()
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"task_id": job.ID, "status": job.Status})
	})

	// GET - Current job state from the local store
	router.GET("/task-status/:id", func(c *gin.Context) {
		id := c.Param("id")
		var job models.GenerationJob
		if err := db.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, job)
	})

	// DELETE - Cancel the polling watch for a job
	router.DELETE("/task-status/:id", func(c *gin.Context) {
		id := c.Param("id")
		watchMu.Lock()
		cancel, ok := watches[id]
		watchMu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no running watch for job"})
			return
		}
		cancel()
		log.Info("Job watch canceled by request", zap.String("job_id", id))
		c.JSON(http.StatusOK, gin.H{"message": "watch canceled"})
	})
}

func seedDefaultAuthorities(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Authority{}).Count(&count)
	if count > 0 {
		return
	}
	authorities := []models.Authority{
		{Name: "Departamento Estadual de Trânsito de São Paulo", Acronym: "DETRAN-SP", Sphere: "state", City: "São Paulo", State: "SP"},
		{Name: "Departamento Estadual de Trânsito do Rio de Janeiro", Acronym: "DETRAN-RJ", Sphere: "state", City: "Rio de Janeiro", State: "RJ"},
		{Name: "Junta Administrativa de Recursos de Infrações", Acronym: "JARI", Sphere: "municipal"},
		{Name: "Conselho Estadual de Trânsito", Acronym: "CETRAN", Sphere: "state"},
	}
	if err := db.Create(&authorities).Error; err != nil {
		logger.Warn("Failed to seed default authorities", zap.Error(err))
	} else {
		logger.Info("Default authorities seeded.")
	}
}

