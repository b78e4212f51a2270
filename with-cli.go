package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/codersaadi/passvault/internal/passgen"
	"github.com/codersaadi/passvault/internal/vault"
)

// cli is the interactive menu.
type cli struct {
	in           *bufio.Reader
	out          io.Writer
	open         opener
	readPassword func(prompt string) (string, error)

	vault *vault.Vault
}

func newCLI(in io.Reader, out io.Writer, open opener) *cli {
	c := &cli{
		in:   bufio.NewReader(in),
		out:  out,
		open: open,
	}
	c.readPassword = c.readHidden
	return c
}

// run asks for the master password until the vault opens, then serves the
// menu until the user quits or input ends.
func (c *cli) run(ctx context.Context) error {
	fmt.Fprintf(c.out, "\n%s v%s\n", AppName, Version)
	fmt.Fprintln(c.out, strings.Repeat("=", 40))

	if err := c.unlock(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	for {
		fmt.Fprintln(c.out, "\n1. List saved passwords")
		fmt.Fprintln(c.out, "2. Add password")
		fmt.Fprintln(c.out, "3. Remove password")
		fmt.Fprintln(c.out, "4. Search password")
		fmt.Fprintln(c.out, "5. Generate password")
		fmt.Fprintln(c.out, "6. Quit")

		choice, err := c.prompt("\nChoice: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch choice {
		case "1":
			c.listCredentials()
		case "2":
			err = c.addCredential(ctx)
		case "3":
			err = c.removeCredential()
		case "4":
			err = c.searchCredential()
		case "5":
			err = c.generatePassword()
		case "6":
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(c.out, "Invalid choice, please try again.")
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (c *cli) unlock() error {
	for {
		master, err := c.readPassword("Master password: ")
		if err != nil {
			return err
		}
		v, err := c.open(master)
		if err == nil {
			c.vault = v
			return nil
		}
		if !vault.IsLoadFailure(err) {
			return err
		}
		fmt.Fprintln(c.out, "Invalid master password or corrupted vault. Try again.")
	}
}

func (c *cli) listCredentials() {
	records := c.vault.List()
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No saved passwords.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(c.out, "Site: %s, Username: %s, Breached: %s\n", r.Site, r.Username, yesNo(r.Breached))
	}
}

func (c *cli) addCredential(ctx context.Context) error {
	site, err := c.prompt("Site: ")
	if err != nil {
		return err
	}
	username, err := c.prompt("Username: ")
	if err != nil {
		return err
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		return err
	}

	breached, err := c.vault.Add(ctx, site, username, password)
	if errors.Is(err, vault.ErrInvalidRecord) {
		fmt.Fprintln(c.out, "Site must not be empty.")
		return nil
	}
	if err != nil {
		return err
	}
	if breached {
		fmt.Fprintln(c.out, "Warning: this password appears in a known data breach.")
	}
	fmt.Fprintln(c.out, "Password added.")
	return nil
}

func (c *cli) removeCredential() error {
	site, err := c.prompt("Site to remove: ")
	if err != nil {
		return err
	}
	removed, err := c.vault.Remove(site)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(c.out, "Password removed.")
	} else {
		fmt.Fprintln(c.out, "No password found for that site.")
	}
	return nil
}

func (c *cli) searchCredential() error {
	site, err := c.prompt("Site to search: ")
	if err != nil {
		return err
	}
	r, ok := c.vault.Find(site)
	if !ok {
		fmt.Fprintln(c.out, "No password found for that site.")
		return nil
	}
	fmt.Fprintf(c.out, "Site: %s\n", r.Site)
	fmt.Fprintf(c.out, "Username: %s\n", r.Username)
	fmt.Fprintf(c.out, "Password: %s\n", r.Password)
	fmt.Fprintf(c.out, "Breached: %s\n", yesNo(r.Breached))
	return nil
}

func (c *cli) generatePassword() error {
	answer, err := c.prompt(fmt.Sprintf("Length (%d): ", passgen.DefaultLength))
	if err != nil {
		return err
	}
	length := passgen.DefaultLength
	if n, err := strconv.Atoi(answer); err == nil {
		length = passgen.ClampLength(n)
	}
	password, err := passgen.Generate(length, passgen.AllClasses)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Generated password: %s\n", password)
	return nil
}

// prompt prints p and returns the next input line without its line ending.
func (c *cli) prompt(p string) (string, error) {
	fmt.Fprint(c.out, p)
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHidden reads a password without echo when stdin is a terminal, and a
// plain line otherwise.
func (c *cli) readHidden(p string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return c.prompt(p)
	}
	fmt.Fprint(c.out, p)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", errors.Wrap(err, "cannot read password")
	}
	return string(b), nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
