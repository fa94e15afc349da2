package profile

import (
	"errors"
	"fmt"

	"github.com/steveyegge/gitswitch/internal/gitcfg"
	"github.com/steveyegge/gitswitch/internal/secret"
	"go.uber.org/zap"
)

// ReconcileReport describes what a Reconcile pass changed.
type ReconcileReport struct {
	// Imported are profiles created from untracked credential entries.
	Imported []Profile

	// Repaired lists ids whose interrupted deletion or missing secret was fixed.
	Repaired []string

	// Merged lists ids whose empty metadata was filled from the git identity.
	Merged []string

	// Removed are tombstoned profiles whose deletion was finished. Their
	// credential entries are not imported back.
	Removed []Profile
}

// Changed reports whether the pass modified anything.
func (r *ReconcileReport) Changed() bool {
	return len(r.Imported)+len(r.Repaired)+len(r.Merged) > 0
}

// Reconcile brings the registry in line with the credential manager.
//
// Tombstoned profiles left by an interrupted deletion have their secret
// removed and are dropped; entries for them are skipped. Every entry
// whose username is not tracked is imported with its password copied into
// the secret store. A tracked profile whose secret went missing gets it back
// from its entry. The first entry is the one git authenticates with, so the
// global identity is attributed to it and fills its empty name and email.
//
// Running Reconcile twice against the same entries changes nothing the
// second time.
func (rm *RegistryManager) Reconcile(entries []gitcfg.Credential, identity gitcfg.Identity) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	var errs []error

	err := rm.update(func(reg *Registry) (bool, error) {
		changed := false
		finished := map[string]bool{}

		kept := reg.Profiles[:0]
		for _, p := range reg.Profiles {
			if !p.Deleting {
				kept = append(kept, p)
				continue
			}
			if err := rm.deleteSecret(p); err != nil {
				errs = append(errs, fmt.Errorf("finishing deletion of %s: %w", p.ID, err))
				kept = append(kept, p)
				continue
			}
			p.Deleting = false
			report.Repaired = append(report.Repaired, p.ID)
			report.Removed = append(report.Removed, p)
			finished[p.ID] = true
			finished[p.Username] = true
			changed = true
		}
		reg.Profiles = kept

		for n, entry := range entries {
			if entry.Username == "" {
				continue
			}
			id := DeriveID(entry.Username, entry.Username, "")
			if finished[id] || finished[entry.Username] || tombstoned(reg, id) {
				continue
			}

			imported := false
			i := find(reg, id)
			switch {
			case i < 0 && entry.Password == "":
				rm.logger.Debug("skipping credential entry without password", zap.String("username", entry.Username))
				continue
			case i < 0:
				p := Profile{
					ID:            id,
					DisplayName:   entry.Username,
					Username:      entry.Username,
					Tag:           DefaultTag,
					CredentialRef: CredentialRef{Service: rm.service, Account: id},
					Origin:        OriginImported,
					Added:         rm.now().UTC(),
				}
				if err := rm.secrets.Set(p.CredentialRef.Service, p.CredentialRef.Account, entry.Password); err != nil {
					errs = append(errs, fmt.Errorf("importing %s: %w", id, err))
					continue
				}
				reg.Profiles = append(reg.Profiles, p)
				i = len(reg.Profiles) - 1
				imported = true
				changed = true
			case entry.Password != "":
				repaired, err := rm.restoreSecret(reg.Profiles[i], entry.Password)
				if err != nil {
					errs = append(errs, err)
				} else if repaired {
					report.Repaired = append(report.Repaired, id)
					changed = true
				}
			}

			if n == 0 && mergeIdentity(&reg.Profiles[i], identity) {
				if !imported {
					report.Merged = append(report.Merged, id)
				}
				changed = true
			}
			if imported {
				report.Imported = append(report.Imported, reg.Profiles[i])
				rm.logger.Info("imported credential entry", zap.String("id", id))
			}
		}
		return changed, nil
	})

	if err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// restoreSecret puts password back when the profile's secret is missing.
func (rm *RegistryManager) restoreSecret(p Profile, password string) (bool, error) {
	_, err := rm.secrets.Get(p.CredentialRef.Service, p.CredentialRef.Account)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, secret.ErrNotFound) {
		return false, fmt.Errorf("checking secret of %s: %w", p.ID, err)
	}
	if err := rm.secrets.Set(p.CredentialRef.Service, p.CredentialRef.Account, password); err != nil {
		return false, fmt.Errorf("restoring secret of %s: %w", p.ID, err)
	}
	return true, nil
}

// mergeIdentity fills p's empty display name and email from id.
func mergeIdentity(p *Profile, id gitcfg.Identity) bool {
	changed := false
	if (p.DisplayName == "" || p.DisplayName == p.Username) && id.Name != "" && id.Name != p.DisplayName {
		p.DisplayName = id.Name
		changed = true
	}
	if p.Email == "" && id.Email != "" {
		p.Email = id.Email
		changed = true
	}
	return changed
}

func tombstoned(reg *Registry, id string) bool {
	for _, p := range reg.Profiles {
		if p.ID == id && p.Deleting {
			return true
		}
	}
	return false
}
