// mirror keeps a Composer repository index in sync with the VCS
// repositories registered in it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/git-pkgs/mirror/internal/app"
	"github.com/git-pkgs/mirror/internal/config"
	"github.com/git-pkgs/mirror/internal/server"
	"github.com/git-pkgs/mirror/internal/service"
)

const usage = `mirror keeps a Composer repository index in sync with VCS repositories.

Usage:
  mirror <command> [flags] [args]

Commands:
  serve                 serve packages.json and version documents
  worker                process queued jobs
  register <url>        register a repository and schedule its scan
  unregister <url>      remove a repository and its versions
  refresh <url>         rescan a repository
  delete <name> [ver]   delete one version or every version of a package
  status                show queue counts and parked jobs

Run "mirror <command> --help" for the flags of a command.
`

var errUsage = errors.New("usage")

var commands = map[string]bool{
	"serve": true, "worker": true, "register": true, "unregister": true,
	"refresh": true, "delete": true, "status": true,
}

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case err == errUsage, errors.Is(err, pflag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}
	command, args := args[0], args[1:]
	if !commands[command] {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	flags := pflag.NewFlagSet("mirror "+command, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("MIRROR_CONFIG"), "path to a YAML config file")
	hostType := flags.String("type", "", "host type of the repository (github, bitbucket, gitlab); detected when empty")
	force := flags.BoolP("force", "f", false, "re-read manifests of known versions")
	withWorker := flags.Bool("worker", false, "also process queued jobs")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	switch command {
	case "serve":
		return serve(ctx, a, *withWorker)
	case "worker":
		return a.Worker(ctx)
	case "register":
		if len(args) != 1 {
			return fmt.Errorf("%w: mirror register <url>", errUsage)
		}
		return report(a.Service.Register(ctx, args[0], *hostType))
	case "unregister":
		if len(args) != 1 {
			return fmt.Errorf("%w: mirror unregister <url>", errUsage)
		}
		return report(a.Service.Unregister(ctx, args[0]))
	case "refresh":
		if len(args) != 1 {
			return fmt.Errorf("%w: mirror refresh <url>", errUsage)
		}
		return report(a.Service.Refresh(ctx, args[0], *force))
	case "delete":
		switch len(args) {
		case 1:
			return report(a.Service.Delete(ctx, args[0], ""))
		case 2:
			return report(a.Service.Delete(ctx, args[0], args[1]))
		}
		return fmt.Errorf("%w: mirror delete <name> [version]", errUsage)
	}
	return status(ctx, a)
}

func serve(ctx context.Context, a *app.App, withWorker bool) error {
	srv := server.New(a.Config.HTTP.Listen, a.Handler(), a.Logger)

	errc := make(chan error, 2)
	go func() { errc <- srv.Start() }()
	if withWorker {
		go func() { errc <- a.Worker(ctx) }()
	}

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func status(ctx context.Context, a *app.App) error {
	pending, failed, err := a.Queue.Stats(ctx)
	if err != nil {
		return err
	}
	parked, err := a.Queue.Failed(ctx)
	if err != nil {
		return err
	}
	return writeJSON(map[string]any{
		"pending": pending,
		"failed":  failed,
		"parked":  parked,
	})
}

func report(out *service.Outcome, err error) error {
	if err != nil {
		return err
	}
	return writeJSON(out)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
