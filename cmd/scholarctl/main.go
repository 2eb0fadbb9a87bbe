// Command scholarctl runs one-off maintenance tasks against the scholarify
// database: seeding subtests, importing question sheets, creating accounts and
// rescoring results after an answer-key fix.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"scholarify/internal/app"
	"scholarify/internal/app/observability"
	"scholarify/internal/auth"
	"scholarify/internal/db"
	"scholarify/internal/question"
	"scholarify/internal/tryout"

	"go.uber.org/zap"
)

const usage = `usage: scholarctl <command> [flags]

commands:
  seed-subtests                 create or refresh the UTBK subtests
  import-soal <file.xlsx>       import questions from a spreadsheet
  create-user -username u -password p [-role student|admin] [-name "Full Name"]
  recompute -subtest CODE       rescore every result of a subtest
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "scholarctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(observability.LogConfig{Env: cfg.AppEnv, Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, db.Config{Driver: driver, DSN: cfg.DBDSN, MaxOpenConns: 4})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	users := auth.NewService(conn, auth.ServiceConfig{JWTSecret: cfg.JWTSecret, TokenTTL: cfg.JWTTTL(), BcryptCost: cfg.BcryptCost})
	bank := question.NewService(conn, cfg.MediaRoot)

	switch cmd {
	case "seed-subtests":
		report, err := bank.SeedSubtests(ctx, nil)
		if err != nil {
			return err
		}
		logger.Info("subtests seeded", zap.Strings("created", report.Created), zap.Strings("updated", report.Updated))
		return printJSON(report)

	case "import-soal":
		fs := flag.NewFlagSet("import-soal", flag.ContinueOnError)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("import-soal needs exactly one xlsx path")
		}
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		report, err := bank.ImportQuestionsExcel(ctx, f)
		if err != nil {
			return err
		}
		logger.Info("questions imported", zap.Int("created", report.Created), zap.Int("errors", report.TotalErrors))
		return printJSON(report)

	case "create-user":
		fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
		username := fs.String("username", "", "login name")
		password := fs.String("password", "", "password, at least 8 characters")
		role := fs.String("role", auth.RoleStudent, "student or admin")
		name := fs.String("name", "", "full name")
		email := fs.String("email", "", "optional email")
		if err := fs.Parse(args); err != nil {
			return err
		}
		u, err := users.CreateUser(ctx, auth.CreateUserInput{
			Username: *username,
			Password: *password,
			Role:     *role,
			FullName: *name,
			Email:    *email,
		})
		if err != nil {
			return err
		}
		logger.Info("user created", zap.Int64("user_id", u.ID), zap.String("role", u.Role))
		return printJSON(u)

	case "recompute":
		fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
		code := fs.String("subtest", "", "subtest code, e.g. LBI")
		if err := fs.Parse(args); err != nil {
			return err
		}
		svc := tryout.NewService(conn, users, bank, tryout.Options{MaxRetries: cfg.SubmitMaxRetries, Logger: logger.Named("tryout")})
		report, err := svc.RecomputeSubtest(ctx, *code)
		if err != nil {
			return err
		}
		return printJSON(report)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
