package vault

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codersaadi/passvault/internal/breach"
	"github.com/codersaadi/passvault/internal/envelope"
)

// A Vault holds the credentials of one vault file in memory. It is not safe
// for concurrent use.
type Vault struct {
	key     envelope.Key
	path    string
	records map[string]CredentialRecord
	checker breach.Checker
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithBreachChecker sets the checker consulted by Add. The default never
// reports a breach.
func WithBreachChecker(c breach.Checker) Option {
	return func(v *Vault) {
		if c != nil {
			v.checker = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// Open derives the key for master and loads the vault stored at path.
//
// A missing file yields an empty vault. If the file exists but cannot be
// decrypted or decoded with this master password, the returned error is a
// *LoadError (see IsLoadFailure). Other I/O errors are returned as is.
func Open(path, master string, opts ...Option) (*Vault, error) {
	v := &Vault{
		key:     envelope.DeriveKey(master),
		path:    path,
		records: make(map[string]CredentialRecord),
		checker: breach.Nop,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vault) load() error {
	data, exists, err := readFile(v.path)
	if err != nil {
		return errors.Wrapf(err, "cannot open vault %q", v.path)
	}
	if !exists {
		v.log.Debug().Str("path", v.path).Msg("vault file not found, starting empty")
		return nil
	}

	plaintext, err := envelope.Open(v.key, data)
	if err != nil {
		return &LoadError{Path: v.path, Err: err}
	}
	records, err := decodeRecords(plaintext)
	if err != nil {
		return &LoadError{Path: v.path, Err: err}
	}
	v.records = records

	v.log.Debug().Str("path", v.path).Int("records", len(records)).Msg("vault loaded")
	return nil
}

func (v *Vault) save() error {
	plaintext, err := encodeRecords(v.records)
	if err != nil {
		return err
	}
	token, err := envelope.Seal(v.key, plaintext)
	if err != nil {
		return err
	}
	if err := writeFile(v.path, token); err != nil {
		return errors.Wrapf(err, "cannot save vault %q", v.path)
	}

	v.log.Debug().Str("path", v.path).Int("records", len(v.records)).Msg("vault saved")
	return nil
}

// Add stores a credential for site, replacing any existing one, and saves the
// vault. The password is checked against the breach checker first; the
// result is stored with the record and returned.
//
// If saving fails the vault is left as it was before the call.
func (v *Vault) Add(ctx context.Context, site, username, password string) (breached bool, err error) {
	rec := CredentialRecord{Site: site, Username: username, Password: password}
	if err := rec.Validate(); err != nil {
		return false, err
	}
	rec.Breached = v.CheckBreach(ctx, password)
	if err := v.Put(rec); err != nil {
		return false, err
	}
	return rec.Breached, nil
}

// CheckBreach asks the vault's breach checker about password. It reads no
// records, so callers may run it without holding the lock that guards the
// other methods.
func (v *Vault) CheckBreach(ctx context.Context, password string) bool {
	return v.checker.IsBreached(ctx, password)
}

// Put stores rec as given, replacing any record for the same site, and saves
// the vault. Unlike Add it does not consult the breach checker.
//
// If saving fails the vault is left as it was before the call.
func (v *Vault) Put(rec CredentialRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	prev, existed := v.records[rec.Site]
	v.records[rec.Site] = rec
	if err := v.save(); err != nil {
		if existed {
			v.records[rec.Site] = prev
		} else {
			delete(v.records, rec.Site)
		}
		return err
	}

	v.log.Debug().Str("site", rec.Site).Bool("replaced", existed).Msg("credential stored")
	return nil
}

// Remove deletes the credential for site and saves the vault. It reports
// false, and leaves the file untouched, when there is nothing to delete.
func (v *Vault) Remove(site string) (bool, error) {
	prev, ok := v.records[site]
	if !ok {
		return false, nil
	}
	delete(v.records, site)
	if err := v.save(); err != nil {
		v.records[site] = prev
		return false, err
	}

	v.log.Debug().Str("site", site).Msg("credential removed")
	return true, nil
}

// Find returns the credential stored for site.
func (v *Vault) Find(site string) (CredentialRecord, bool) {
	rec, ok := v.records[site]
	return rec, ok
}

// List returns a snapshot of all credentials sorted by site.
func (v *Vault) List() []CredentialRecord {
	out := make([]CredentialRecord, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, rec)
	}
	sortBySite(out)
	return out
}

// Search returns the credentials whose site or username contains query,
// ignoring case. An empty query matches everything.
func (v *Vault) Search(query string) []CredentialRecord {
	var out []CredentialRecord
	for _, rec := range v.records {
		if rec.matches(query) {
			out = append(out, rec)
		}
	}
	sortBySite(out)
	return out
}

// Len returns the number of stored credentials.
func (v *Vault) Len() int { return len(v.records) }

// Path returns the vault file path.
func (v *Vault) Path() string { return v.path }

func sortBySite(recs []CredentialRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Site < recs[j].Site })
}
