// Package main runs the docstore REST API over the backend selected with DOCSTORE_BACKEND
// (memory, sqlite, postgres, fs or redis).
package main

import (
	"context"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"     // swagger embed files
	ginSwagger "github.com/swaggo/gin-swagger" // gin-swagger middleware

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/adapters/redis"
	docsql "github.com/sharedcode/docstore/adapters/sql"
	"github.com/sharedcode/docstore/fs"
	"github.com/sharedcode/docstore/inmemory"
	"github.com/sharedcode/docstore/metrics"
	"github.com/sharedcode/docstore/restapi"
	"github.com/sharedcode/docstore/restapi/docs"
)

// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	docstore.ConfigureLogging()

	backend, err := openBackend(context.Background(), os.Getenv("DOCSTORE_BACKEND"))
	if err != nil {
		log.Error("opening backend failed", "error", err)
		os.Exit(1)
	}
	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Error("registering metrics failed", "error", err)
		os.Exit(1)
	}

	server := restapi.NewServer(backend)
	server.Recorder = collector
	routes := restapi.NewRoutes()
	if err := server.RegisterRoutes(routes); err != nil {
		log.Error("registering routes failed", "error", err)
		os.Exit(1)
	}

	router := gin.Default()
	docs.SwaggerInfo.BasePath = "/api/v1"
	routes.Mount(router.Group("/api/v1"), verifyHeaderToken)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := os.Getenv("DOCSTORE_ADDR")
	if addr == "" {
		addr = "localhost:8080"
	}
	if err := router.Run(addr); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, kind string) (docstore.Backend, error) {
	dataPath := os.Getenv("DOCSTORE_DATA_PATH")
	if dataPath == "" {
		dataPath = "/tmp/docstore_data"
	}
	switch kind {
	case "", "memory":
		return inmemory.NewStore(), nil
	case "sqlite":
		return docsql.Open(ctx, docsql.Config{DSN: dataPath + "/docstore.db"})
	case "postgres":
		return docsql.Open(ctx, docsql.Config{Driver: docsql.DriverPostgres, DSN: os.Getenv("DOCSTORE_DSN")})
	case "fs":
		return fs.NewStore(fs.Config{BasePath: dataPath})
	case "redis":
		opts := redis.DefaultOptions()
		if a := os.Getenv("DOCSTORE_REDIS_ADDR"); a != "" {
			opts.Address = a
		}
		conn, err := redis.OpenConnection(opts)
		if err != nil {
			return nil, err
		}
		return redis.NewStore(conn, "/")
	}
	return nil, fmt.Errorf("unsupported backend %q", kind)
}

// verifyHeaderToken wraps h with the bearer token check.
func verifyHeaderToken(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verify(c) {
			h(c)
		}
	}
}

var toValidate = map[string]string{
	"aud": "api://default",
	"cid": os.Getenv("OKTA_CLIENT_ID"),
}

// Verify the bearer token in header.
func verify(c *gin.Context) bool {
	// Allow easy debugging on dev.
	if os.Getenv("DOCSTORE_ENV") == "DEV" {
		return true
	}

	token := c.Request.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, restapi.ErrorResponse{Message: "Unauthorized"})
		return false
	}
	token = strings.TrimPrefix(token, "Bearer ")

	// Allow easy QA, bypass Okta based OAuth2 token verification w/ simple token equality check.
	if os.Getenv("DOCSTORE_ENV") == "QA" {
		if qaToken := os.Getenv("DOCSTORE_QA_TOKEN"); qaToken != "" && token == qaToken {
			return true
		}
	}

	verifierSetup := jwtverifier.JwtVerifier{
		Issuer:           "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
		ClaimsToValidate: toValidate,
	}
	verifier := verifierSetup.New()
	if _, err := verifier.VerifyAccessToken(token); err != nil {
		log.Warn("token verification failed", "error", err)
		c.AbortWithStatusJSON(http.StatusForbidden, restapi.ErrorResponse{Message: err.Error()})
		return false
	}
	return true
}
