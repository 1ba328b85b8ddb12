package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/checkin"
	"rollcall/internal/config"
	"rollcall/internal/course"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var cache session.Cache
	if cfg.CacheBackend == "memory" {
		cache = session.NewMemoryCache()
	} else {
		cache = redisClient
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:jobs")
	}

	courses := course.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	sessions := session.NewStore(cache, courses, cfg.SecretTTL, cfg.LocationTTL, token.NewSecret)
	engine := token.NewEngine(cfg.CodePeriod, cfg.CodeSkew)
	svc := checkin.NewService(sessions, engine, ledger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	v1 := r.Group("/v1", auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Instructor path: mint/reuse the session secret and return the rotating
	// code for display as a QR.
	v1.GET("/courses/:id/attendance/qr",
		auth.RequireRole(auth.RoleProfessor, auth.RoleAdmin),
		func(c *gin.Context) {
			courseID := c.Param("id")
			if !ownsCourse(c, courses, courseID) {
				return
			}

			code, err := svc.Generate(c.Request.Context(), courseID)
			if err != nil {
				log.Printf("generate failed for course %s: %v", courseID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"code": code, "valid_for": "30s"})
		})

	v1.POST("/attendance/checkins",
		auth.RequireRole(auth.RoleStudent),
		func(c *gin.Context) {
			var req struct {
				CourseID string   `json:"course_id" binding:"required"`
				Code     string   `json:"code" binding:"required"`
				Lat      *float64 `json:"lat" binding:"required"`
				Lon      *float64 `json:"lon" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			crs, err := courses.Get(c.Request.Context(), req.CourseID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "course lookup failed"})
				return
			}
			if crs == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": checkin.ErrCourseNotFound.Error()})
				return
			}

			claims := auth.FromContext(c)
			err = svc.CheckIn(c.Request.Context(), claims.Subject, checkin.Request{
				CourseID: req.CourseID,
				Code:     req.Code,
				Lat:      *req.Lat,
				Lon:      *req.Lon,
			})
			switch {
			case err == nil:
				c.JSON(http.StatusOK, gin.H{"message": "attendance marked"})
			case errors.Is(err, checkin.ErrAlreadyMarked):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, checkin.ErrSessionNotActive),
				errors.Is(err, checkin.ErrInvalidCode),
				errors.Is(err, checkin.ErrLocationNotConfigured),
				errors.Is(err, checkin.ErrOutOfRange):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				log.Printf("checkin failed for student %s course %s: %v", claims.Subject, req.CourseID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
			}
		})

	v1.GET("/attendance/records", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}

		claims := auth.FromContext(c)
		var (
			records []attendance.Record
			err     error
		)
		switch claims.Role {
		case auth.RoleStudent:
			records, err = ledger.ListForStudent(c.Request.Context(), claims.Subject, limit, offset)
		case auth.RoleProfessor, auth.RoleAdmin:
			records, err = ledger.ListForProfessor(c.Request.Context(), claims.Subject, limit, offset)
		default:
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	// Ends the session early: the secret is dropped and previously issued
	// codes stop validating. There is no recovery; a new generate call
	// starts an unrelated session.
	v1.POST("/courses/:id/attendance/end",
		auth.RequireRole(auth.RoleProfessor, auth.RoleAdmin),
		func(c *gin.Context) {
			courseID := c.Param("id")
			if !ownsCourse(c, courses, courseID) {
				return
			}
			if err := sessions.InvalidateSecret(c.Request.Context(), session.NewKey(courseID, time.Now())); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end session"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "session ended"})
		})

	// Closes out a session: the worker fills ABSENT rows for enrolled
	// students who never checked in.
	v1.POST("/courses/:id/attendance/finalize",
		auth.RequireRole(auth.RoleProfessor, auth.RoleAdmin),
		func(c *gin.Context) {
			courseID := c.Param("id")
			if !ownsCourse(c, courses, courseID) {
				return
			}

			job := queue.FinalizeJob{CourseID: courseID, Date: time.Now().UTC().Truncate(24 * time.Hour)}
			body, _ := json.Marshal(job)
			if err := q.Publish(c.Request.Context(), queue.Message{Type: "finalize", Body: body}); err != nil {
				log.Printf("finalize enqueue failed for course %s: %v", courseID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not enqueue finalize"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// ownsCourse enforces that a professor only manages their own course; admins
// bypass. Writes the response on failure.
func ownsCourse(c *gin.Context, courses *course.Repository, courseID string) bool {
	owner, err := courses.Owner(c.Request.Context(), courseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "course lookup failed"})
		return false
	}
	if owner == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": checkin.ErrCourseNotFound.Error()})
		return false
	}
	claims := auth.FromContext(c)
	if claims.Role != auth.RoleAdmin && claims.Subject != owner {
		c.JSON(http.StatusForbidden, gin.H{"error": checkin.ErrPermissionDenied.Error()})
		return false
	}
	return true
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
