package vault

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// wireRecord is the serialized form of a CredentialRecord. Pointers tell a
// missing field apart from a zero value.
type wireRecord struct {
	Site     *string `json:"site"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Pwned    *bool   `json:"pwned"`
}

func encodeRecords(records map[string]CredentialRecord) ([]byte, error) {
	sites := make([]string, 0, len(records))
	for site := range records {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	out := make([]wireRecord, 0, len(records))
	for _, site := range sites {
		r := records[site]
		out = append(out, wireRecord{
			Site:     &r.Site,
			Username: &r.Username,
			Password: &r.Password,
			Pwned:    &r.Breached,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode records")
	}
	return data, nil
}

func decodeRecords(data []byte) (map[string]CredentialRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.Wrap(ErrMalformed, "expected a JSON array")
	}

	var in []wireRecord
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%v", err)
	}

	records := make(map[string]CredentialRecord, len(in))
	for i, w := range in {
		if w.Site == nil || w.Username == nil || w.Password == nil || w.Pwned == nil {
			return nil, errors.Wrapf(ErrMalformed, "record %d: missing field", i)
		}
		if *w.Site == "" {
			return nil, errors.Wrapf(ErrMalformed, "record %d: empty site", i)
		}
		// Later duplicates replace earlier ones.
		records[*w.Site] = CredentialRecord{
			Site:     *w.Site,
			Username: *w.Username,
			Password: *w.Password,
			Breached: *w.Pwned,
		}
	}
	return records, nil
}
