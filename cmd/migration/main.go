package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"rnaseqdb/cmd/migration/versions"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// resolveDsn prefers an explicit -dsn value and falls back to DATABASE_URI,
// converted from URI to key/value form.
func resolveDsn(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	uri := os.Getenv("DATABASE_URI")
	if uri == "" {
		return "", errors.New("provide -dsn or set DATABASE_URI")
	}
	parts, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("error parsing db uri: %w", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v",
		parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port()), nil
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from.")
	dsn := flag.String("dsn", "", "Postgres DSN, overrides DATABASE_URI.")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}

	target, err := resolveDsn(*dsn)
	if err != nil {
		log.Fatal(err)
	}

	db, err := gorm.Open(postgres.Open(target), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, versions.All())

	if err := m.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied")
}
