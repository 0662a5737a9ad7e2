// Command form-users administers the account records used by the form
// server: signup, password resets, role changes, profile edits, remembered
// uploads and export.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/a3tai/mcp-form-pdf/internal/config"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

// storeFlags select the record store, defaulting to the server's
// MCP_FORM_* environment.
type storeFlags struct {
	store string
	users string
	dsn   string
}

func (s *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.store, "store", envOr("MCP_FORM_STORE", config.StoreJSON), "Record store: json or sql")
	fs.StringVar(&s.users, "users", envOr("MCP_FORM_USERS", config.DefaultUserFile), "User record file (json store)")
	fs.StringVar(&s.dsn, "dsn", os.Getenv("MCP_FORM_DSN"), "Database DSN (sql store)")
}

func (s *storeFlags) open() (*userstore.Users, error) {
	switch s.store {
	case config.StoreJSON:
		return userstore.OpenJSON(s.users)
	case config.StoreSQL:
		if s.dsn == "" {
			return nil, errors.New("-dsn is required for the sql store")
		}
		return userstore.OpenSQL(s.dsn)
	default:
		return nil, fmt.Errorf("unknown store %q", s.store)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, users *userstore.Users, fs *flag.FlagSet, args []string, out io.Writer) error
	flags func(fs *flag.FlagSet)
}

var (
	profileName    string
	profileDOB     string
	profileAddress string
	password       string
	photoPath      string
	signaturePath  string
	outputFormat   string
	importFrom     string
)

var commands = map[string]command{
	"add": {
		usage: "add [-name N] [-dob D] [-address A] -password P <username>",
		help:  "Create an account",
		flags: func(fs *flag.FlagSet) {
			profileFlags(fs)
			fs.StringVar(&password, "password", "", "Account password")
		},
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			user, err := users.CreateUser(ctx, userstore.NewUser{
				ID:       id,
				Password: password,
				Profile:  userstore.Profile{Name: profileName, DOB: profileDOB, Address: profileAddress},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Created user %s\n", user.ID)
			return nil
		},
	},
	"list": {
		usage: "list [-format text|json]",
		help:  "List all accounts",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&outputFormat, "format", "text", "Output format: text, json")
		},
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, _ []string, out io.Writer) error {
			list, err := users.ListUsers(ctx)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return outputJSON(out, list)
			}
			return outputTable(out, list)
		},
	},
	"export": {
		usage: "export",
		help:  "Write every record, without password hashes, as JSON",
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, _ []string, out io.Writer) error {
			list, err := users.ListUsers(ctx)
			if err != nil {
				return err
			}
			records := make([]map[string]any, 0, len(list))
			for _, u := range list {
				records = append(records, u.Fields)
			}
			return outputJSON(out, map[string]any{"users": records})
		},
	},
	"passwd": {
		usage: "passwd -password P <username>",
		help:  "Reset an account password",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&password, "password", "", "New password")
		},
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			if err := users.SetPassword(ctx, id, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "Password reset for %s\n", id)
			return nil
		},
	},
	"check": {
		usage: "check -password P <username>",
		help:  "Verify a password",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&password, "password", "", "Password to verify")
		},
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			user, err := users.Authenticate(ctx, id, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Credentials valid for %s (role: %s)\n", user.ID, user.Role)
			return nil
		},
	},
	"promote": {
		usage: "promote <username>",
		help:  "Grant the admin role",
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			return setRole(ctx, users, args, userstore.RoleAdmin, out)
		},
	},
	"demote": {
		usage: "demote <username>",
		help:  "Revoke the admin role",
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			return setRole(ctx, users, args, userstore.RoleUser, out)
		},
	},
	"edit": {
		usage: "edit [-name N] [-dob D] [-address A] <username>",
		help:  "Change profile details; omitted flags keep their value",
		flags: profileFlags,
		run: func(ctx context.Context, users *userstore.Users, fs *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			current, err := users.FindUser(ctx, id)
			if err != nil {
				return err
			}
			p := userstore.Profile{Name: current.Name, DOB: current.DOB, Address: current.Address}
			fs.Visit(func(f *flag.Flag) {
				switch f.Name {
				case "name":
					p.Name = profileName
				case "dob":
					p.DOB = profileDOB
				case "address":
					p.Address = profileAddress
				}
			})
			if err := users.UpdateProfile(ctx, id, p); err != nil {
				return err
			}
			fmt.Fprintf(out, "Updated profile for %s\n", id)
			return nil
		},
	},
	"set-upload": {
		usage: "set-upload [-photo PATH] [-signature PATH] <username>",
		help:  "Remember stored photo and signature uploads; an empty path clears one",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&photoPath, "photo", "", "Stored photo path, relative to the upload directory")
			fs.StringVar(&signaturePath, "signature", "", "Stored signature path, relative to the upload directory")
		},
		run: func(ctx context.Context, users *userstore.Users, fs *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			changed := 0
			var setErr error
			fs.Visit(func(f *flag.Flag) {
				if setErr != nil {
					return
				}
				switch f.Name {
				case "photo":
					setErr = users.SetUpload(ctx, id, schema.SlotPhoto, photoPath)
					changed++
				case "signature":
					setErr = users.SetUpload(ctx, id, schema.SlotSignature, signaturePath)
					changed++
				}
			})
			if setErr != nil {
				return setErr
			}
			if changed == 0 {
				return errors.New("nothing to change: pass -photo or -signature")
			}
			fmt.Fprintf(out, "Updated uploads for %s\n", id)
			return nil
		},
	},
	"delete": {
		usage: "delete <username>",
		help:  "Remove an account; generated documents stay on disk",
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, args []string, out io.Writer) error {
			id, err := oneArg(args)
			if err != nil {
				return err
			}
			if err := users.DeleteUser(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted user %s\n", id)
			return nil
		},
	},
	"import": {
		usage: "import -from users.json",
		help:  "Copy records from a users file into the sql store",
		flags: func(fs *flag.FlagSet) {
			fs.StringVar(&importFrom, "from", "", "Source users file")
		},
		run: func(ctx context.Context, users *userstore.Users, _ *flag.FlagSet, _ []string, out io.Writer) error {
			if importFrom == "" {
				return errors.New("-from is required")
			}
			dst, ok := users.Backend().(*userstore.SQLStore)
			if !ok {
				return errors.New("import needs -store sql")
			}
			if _, err := os.Stat(importFrom); err != nil {
				return fmt.Errorf("cannot read source: %w", err)
			}
			src, err := userstore.NewJSONStore(importFrom, userstore.DefaultKeys().ID)
			if err != nil {
				return err
			}
			copied, err := dst.Import(ctx, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d user(s)\n", copied)
			return nil
		},
	},
}

func profileFlags(fs *flag.FlagSet) {
	fs.StringVar(&profileName, "name", "", "Full name")
	fs.StringVar(&profileDOB, "dob", "", "Date of birth")
	fs.StringVar(&profileAddress, "address", "", "Postal address")
}

func setRole(ctx context.Context, users *userstore.Users, args []string, role string, out io.Writer) error {
	id, err := oneArg(args)
	if err != nil {
		return err
	}
	if err := users.SetRole(ctx, id, role); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is now %s\n", id, role)
	return nil
}

func oneArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one username")
	}
	return args[0], nil
}

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputTable(out io.Writer, list []*userstore.User) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "No users")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tNAME\tROLE\tDOCUMENTS")
	for _, u := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", u.ID, u.Name, u.Role, len(u.Artifacts))
	}
	return tw.Flush()
}

// runCommand executes one subcommand and returns the process exit code.
func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-help" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf storeFlags
	sf.register(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "USAGE:\n  form-users %s\n\n%s\n\nOPTIONS:\n", cmd.usage, cmd.help)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	users, err := sf.open()
	if err != nil {
		fmt.Fprintf(stderr, "Error opening user store: %v\n", err)
		return 1
	}
	defer users.Close()

	if err := cmd.run(ctx, users, fs, fs.Args(), stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", describe(err))
		return 1
	}
	return 0
}

func describe(err error) string {
	switch {
	case errors.Is(err, userstore.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, userstore.ErrUserExists):
		return "user already exists"
	case errors.Is(err, userstore.ErrInvalidCredentials):
		return "invalid credentials"
	case userstore.IsRetryable(err):
		return err.Error() + " (retry may succeed)"
	}
	return err.Error()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "form-users - manage accounts of the form PDF server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  form-users <command> [OPTIONS] [username]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].help)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STORE OPTIONS (all commands):")
	fmt.Fprintln(w, "  -store json|sql   defaults to $MCP_FORM_STORE or json")
	fmt.Fprintln(w, "  -users PATH       defaults to $MCP_FORM_USERS or "+config.DefaultUserFile)
	fmt.Fprintln(w, "  -dsn DSN          defaults to $MCP_FORM_DSN")
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()
	os.Exit(runCommand(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
