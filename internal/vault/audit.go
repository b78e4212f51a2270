package vault

import "sort"

// Report summarizes the state of the stored passwords.
type Report struct {
	Total int

	// Breached lists the sites whose password was flagged when it was added.
	Breached []string

	// Reused groups sites that share the same password. Each group has at
	// least two sites.
	Reused [][]string
}

// Healthy reports whether the audit found nothing to act on.
func (r Report) Healthy() bool {
	return len(r.Breached) == 0 && len(r.Reused) == 0
}

// Audit inspects the stored credentials for breached and reused passwords.
func (v *Vault) Audit() Report {
	rep := Report{Total: len(v.records)}

	byPassword := make(map[string][]string)
	for _, rec := range v.List() {
		if rec.Breached {
			rep.Breached = append(rep.Breached, rec.Site)
		}
		if rec.Password != "" {
			byPassword[rec.Password] = append(byPassword[rec.Password], rec.Site)
		}
	}
	for _, sites := range byPassword {
		if len(sites) > 1 {
			rep.Reused = append(rep.Reused, sites)
		}
	}
	sort.Slice(rep.Reused, func(i, j int) bool { return rep.Reused[i][0] < rep.Reused[j][0] })
	return rep
}
