package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"rnaseqdb/schema"
	"rnaseqdb/services"
	"rnaseqdb/sra"
	"rnaseqdb/tracks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type rnaseqDbEnv struct {
	DatabaseUri string

	// Bcrypt hash of the operator token guarding mutating endpoints.
	AdminTokenHash string

	EnaPortalUrl string
	FilesDir     string
	LogFile      string

	AllowedOrigin string
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func loadEnv() rnaseqDbEnv {
	missingEnvs := []string{}

	requiredEnv := func(key string) string {
		env := os.Getenv(key)
		if env == "" {
			missingEnvs = append(missingEnvs, key)
			slog.Error("missing required env variable", "key", key)
		}
		return env
	}

	env := rnaseqDbEnv{
		DatabaseUri:    requiredEnv("DATABASE_URI"),
		AdminTokenHash: requiredEnv("ADMIN_TOKEN_HASH"),

		EnaPortalUrl:  os.Getenv("ENA_PORTAL_URL"),
		FilesDir:      os.Getenv("FILES_DIR"),
		LogFile:       os.Getenv("LOG_FILE"),
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),
	}

	if len(missingEnvs) > 0 {
		log.Fatalf("The following required env vars are missing: %s", strings.Join(missingEnvs, ", "))
	}

	return env
}

func (env *rnaseqDbEnv) postgresDsn() string {
	parts, err := url.Parse(env.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initLogging(env *rnaseqDbEnv) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	if env.LogFile == "" {
		return
	}
	logFile, err := os.OpenFile(env.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(logFile, os.Stderr), nil)))
	slog.Info("logging initialized", "log_file", env.LogFile)
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(schema.All()...)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env := loadEnv()

	initLogging(&env)

	db := initDb(env.postgresDsn())

	accessor := sra.NewPortalClient(env.EnaPortalUrl)

	rnaseqDb := services.NewRNAseqDB(db, accessor, tracks.NopNodeSink{}, []byte(env.AdminTokenHash))

	r := chi.NewRouter()

	if env.AllowedOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{env.AllowedOrigin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Mount("/api/v1", rnaseqDb.Routes())

	slog.Info("starting server", "port", *port)
	err := http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
}
