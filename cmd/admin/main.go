// Command admin runs one-off maintenance against the vault database using
// the same configuration sources as the server.
//
//	admin migrate
//	admin seed
//	admin create-user -name alice [-role admin] [-department Lab]
//	admin gen-master-key
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/cryptox"
	"github.com/dmitrijs2005/qvault/internal/flagx"
	"github.com/dmitrijs2005/qvault/internal/server"
	"github.com/dmitrijs2005/qvault/internal/server/config"
	"github.com/dmitrijs2005/qvault/internal/server/services"
	"golang.org/x/term"
)

const usage = "usage: admin migrate|seed|create-user|gen-master-key [flags]"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "gen-master-key":
		key := common.GenerateRandByteArray(cryptox.MasterKeySize)
		fmt.Fprintln(stdout, hex.EncodeToString(key))
		common.WipeByteArray(key)
		return nil
	case "migrate", "seed", "create-user":
	default:
		return errors.New(usage)
	}

	cfg := config.LoadConfig()
	logger, err := server.NewLogger(cfg)
	if err != nil {
		return err
	}

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "migrate":
		fmt.Fprintln(stdout, "migrations applied")
	case "seed":
		if err := app.Seed(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "seed done")
	case "create-user":
		in, err := parseCreateUser(args[1:])
		if err != nil {
			return err
		}
		if in.Password, err = readPassword(stdin, stdout); err != nil {
			return err
		}
		u, err := app.CreateUser(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created user %s (%s)\n", u.UserName, u.ID)
	}
	return nil
}

func parseCreateUser(args []string) (services.CreateUserInput, error) {
	var in services.CreateUserInput

	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.StringVar(&in.UserName, "name", "", "login name")
	fs.StringVar(&in.Role, "role", common.RoleUser, "admin or user")
	fs.StringVar(&in.Name, "display", "", "display name")
	fs.StringVar(&in.Department, "department", "", "department")

	own := flagx.FilterArgs(args, []string{"-name", "-role", "-display", "-department"})
	if err := fs.Parse(own); err != nil {
		return in, err
	}
	if in.UserName == "" {
		return in, errors.New("create-user: -name is required")
	}
	return in, nil
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise, so the command also works in scripts.
func readPassword(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
