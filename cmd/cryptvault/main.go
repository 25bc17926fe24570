// Command cryptvault is the non-interactive CLI surface over the
// cryptographic access-control engine (spec §6): it exposes one
// subcommand per FileEngine/UserRegistry/GlobalKeyManager operation. The
// interactive shell, line-editing, and masked terminal password entry
// spec.md declares out of scope live above this binary as a separate
// collaborator; this CLI accepts passphrases as flags instead.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/cryptvault/cryptvault/internal/blobstore"
	"github.com/cryptvault/cryptvault/internal/envelope"
	"github.com/cryptvault/cryptvault/internal/globalkey"
	"github.com/cryptvault/cryptvault/internal/sharemap"
	"github.com/cryptvault/cryptvault/internal/storelock"
	"github.com/cryptvault/cryptvault/internal/users"
	"github.com/cryptvault/cryptvault/internal/vault"
	"github.com/cryptvault/cryptvault/internal/vaultcrypto"
	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// personalDerivedKey derives a user's PersonalMetadata key from their
// passphrase, the same way vault.Engine's internal personalStoreFor
// helper does it, without exposing internal/vault's unexported
// constructor to this package.
func personalDerivedKey(blobs *blobstore.Store, kdf *vaultcrypto.PasswordKDF, user string, passphrase []byte) ([]byte, error) {
	store := envelope.NewPersonalStore(blobs, users.PersonalStorePath(user), users.PersonalSaltPath(user), kdf)
	return store.DerivedKey(passphrase)
}

func main() {
	cmd := &cli.Command{
		Name:  "cryptvault",
		Usage: "multi-user encrypted virtual file store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base",
				Usage: "store root directory",
				Value: ".",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			addUserCommand(),
			changePasswordCommand(),
			writeCommand(),
			readCommand(),
			shareCommand(),
			auditCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("cryptvault: command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// session bundles everything a subcommand needs once a store is opened
// and a user is authenticated.
type session struct {
	blobs  *blobstore.Store
	kdf    *vaultcrypto.PasswordKDF
	gkm    *globalkey.Manager
	engine *vault.Engine
	lock   *storelock.Lock
}

func openStore(base string) (*session, error) {
	blobs, err := blobstore.New(base)
	if err != nil {
		return nil, err
	}
	lock, err := storelock.Acquire(base)
	if err != nil {
		return nil, err
	}
	kdf := vaultcrypto.NewPasswordKDF()
	gkm := globalkey.New(blobs)
	engine := vault.New(blobs, gkm, slog.Default())
	return &session{blobs: blobs, kdf: kdf, gkm: gkm, engine: engine, lock: lock}, nil
}

func (s *session) close() {
	if err := s.lock.Release(); err != nil {
		slog.Warn("cryptvault: failed to release store lock", slog.Any("error", err))
	}
}

// authenticate loads user's private key, derives their PersonalMetadata
// key, and retrieves the live global sharing key G. This is the
// "challenge-response" login step spec §4.7/§7 refer to: a wrong
// passphrase surfaces AuthFailed from LoadPrivateKey unchanged, and any
// failure to retrieve G with the loaded private key is reported as a
// BadKeyPairError wrapping the underlying error.
func (s *session) authenticate(user, passphrase string) (priv *rsa.PrivateKey, derivedKey, g []byte, err error) {
	priv, err = vaultcrypto.LoadPrivateKey(filepath.Join(s.blobs.Base, users.PrivateKeyPath(user)), []byte(passphrase), s.kdf)
	if err != nil {
		return nil, nil, nil, err
	}
	g, err = s.gkm.Retrieve(user, priv)
	if err != nil {
		return nil, nil, nil, &vaulterrors.BadKeyPairError{User: user, Err: err}
	}

	derivedKey, err = personalDerivedKey(s.blobs, s.kdf, user, []byte(passphrase))
	if err != nil {
		return nil, nil, nil, err
	}
	return priv, derivedKey, g, nil
}

func baseFlag(cmd *cli.Command) string {
	return cmd.String("base")
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "bootstrap the admin principal and the global sharing key for a new store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "passphrase", Required: true, Usage: "admin passphrase"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			base := baseFlag(cmd)
			blobs, err := blobstore.New(base)
			if err != nil {
				return err
			}
			lock, err := storelock.Acquire(base)
			if err != nil {
				return err
			}
			defer lock.Release()

			kdf := vaultcrypto.NewPasswordKDF()
			passphrase := cmd.String("passphrase")

			exists, err := blobs.Exists(users.PrivateKeyPath(vault.AdminName))
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("store at %s is already initialized", base)
			}

			pubPEM, privPEM, err := vaultcrypto.GenerateKeypair([]byte(passphrase), kdf)
			if err != nil {
				return err
			}
			if err := blobs.WriteAllAtomic(users.PrivateKeyPath(vault.AdminName), privPEM); err != nil {
				return err
			}
			if err := blobs.WriteAllAtomic(users.PublicKeyPath(vault.AdminName), pubPEM); err != nil {
				return err
			}
			if err := blobs.CreateDirectory(filepath.Join(vault.AdminName, "personal")); err != nil {
				return err
			}
			if err := blobs.CreateDirectory(filepath.Join(vault.AdminName, "shared")); err != nil {
				return err
			}
			if err := blobs.CreateDirectory(filepath.Join("metadata", vault.AdminName)); err != nil {
				return err
			}

			adminPriv, err := vaultcrypto.LoadPrivateKey(filepath.Join(blobs.Base, users.PrivateKeyPath(vault.AdminName)), []byte(passphrase), kdf)
			if err != nil {
				return err
			}

			gkm := globalkey.New(blobs)
			if _, err := gkm.InitializeForAdmin(vault.AdminName, &adminPriv.PublicKey, adminPriv, []byte(passphrase)); err != nil {
				return err
			}

			slog.Info("cryptvault: store initialized", slog.String("base", base))
			return nil
		},
	}
}

func addUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "adduser",
		Usage:     "create a new user (admin only)",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin-passphrase", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return errors.New("adduser requires a <name> argument")
			}
			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			_, _, g, err := s.authenticate(vault.AdminName, cmd.String("admin-passphrase"))
			if err != nil {
				return err
			}

			registry := users.New(s.blobs, s.gkm, s.kdf)
			passphrase, err := registry.AddUser(name, g)
			if err != nil {
				return err
			}

			fmt.Printf("user %s created; passphrase (shown once): %s\n", name, passphrase)
			return nil
		},
	}
}

func changePasswordCommand() *cli.Command {
	return &cli.Command{
		Name:      "changepass",
		Usage:     "change a user's passphrase",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "old", Required: true},
			&cli.StringFlag{Name: "new", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return errors.New("changepass requires a <name> argument")
			}
			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			registry := users.New(s.blobs, s.gkm, s.kdf)
			if err := registry.ChangePassword(name, []byte(cmd.String("old")), []byte(cmd.String("new"))); err != nil {
				if vaulterrors.IsMetadataRekeyFailed(err) {
					slog.Error("cryptvault: password changed but metadata rekey failed; user is locked out until an operator intervenes", slog.String("user", name))
				}
				return err
			}
			fmt.Printf("passphrase changed for %s\n", name)
			return nil
		},
	}
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Aliases:   []string{"mkfile"},
		Usage:     "write plaintext (from stdin) to an owned path",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "passphrase", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("write requires a <path> argument")
			}
			plaintext, err := readAllStdin()
			if err != nil {
				return err
			}

			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			user := cmd.String("user")
			priv, derivedKey, g, err := s.authenticate(user, cmd.String("passphrase"))
			if err != nil {
				return err
			}

			return s.engine.Write(path, plaintext, user, &priv.PublicKey, derivedKey, s.kdf, g)
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Aliases:   []string{"cat"},
		Usage:     "decrypt and print a file's plaintext",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "passphrase", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("read requires a <path> argument")
			}
			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			user := cmd.String("user")
			priv, derivedKey, g, err := s.authenticate(user, cmd.String("passphrase"))
			if err != nil {
				return err
			}

			plaintext, _, err := s.engine.Read(path, user, priv, derivedKey, s.kdf, g)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(plaintext)
			return err
		},
	}
}

func shareCommand() *cli.Command {
	return &cli.Command{
		Name:      "share",
		Usage:     "share an owned file with another user",
		ArgsUsage: "<sourcePath> <targetUser> <targetPath>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "passphrase", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 3 {
				return errors.New("share requires <sourcePath> <targetUser> <targetPath>")
			}
			sourcePath, targetUser, targetPath := args.Get(0), args.Get(1), args.Get(2)

			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			user := cmd.String("user")
			priv, derivedKey, g, err := s.authenticate(user, cmd.String("passphrase"))
			if err != nil {
				return err
			}

			return s.engine.Share(sourcePath, targetUser, user, priv, derivedKey, s.kdf, targetPath, g)
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:      "audit",
		Usage:     "list every recipient of a file (admin only)",
		ArgsUsage: "<sourcePath>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin-passphrase", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sourcePath := cmd.Args().First()
			if sourcePath == "" {
				return errors.New("audit requires a <sourcePath> argument")
			}
			s, err := openStore(baseFlag(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			_, _, g, err := s.authenticate(vault.AdminName, cmd.String("admin-passphrase"))
			if err != nil {
				return err
			}

			recipients, err := s.engine.Audit(vault.AdminName, sourcePath, g)
			if err != nil {
				return err
			}
			printRecipients(sourcePath, recipients)
			return nil
		},
	}
}

func printRecipients(sourcePath string, recipients []sharemap.Recipient) {
	if len(recipients) == 0 {
		fmt.Printf("%s: no recipients\n", sourcePath)
		return
	}
	for _, r := range recipients {
		fmt.Printf("%s -> %s:%s\n", sourcePath, r.Name, r.TargetPath)
	}
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("write expects plaintext on stdin")
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
