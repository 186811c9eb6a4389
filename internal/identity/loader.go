// Package identity implements the Identity Loader: for a token identifier,
// it queries the host for every identity and
// materializes each one's certificate, key handles, and capability flags.
package identity

import (
	"context"

	"hostcryptoki/internal/hostapi"
	"hostcryptoki/internal/logging"
	"hostcryptoki/internal/model"
)

const defaultLabel = "Hardware token"

// Load queries store for every identity in tokenID's access group, resolves
// each one against authCtx, and returns the successfully-materialized
// identities. A failure on any single identity (missing mandatory attribute,
// host error) drops that identity but does not abort the rest.
func Load(store hostapi.IdentityStore, authCtx any, tokenID string, log *logging.Logger) []model.Identity {
	records, err := store.QueryIdentities(tokenID)
	if err != nil {
		if log != nil {
			log.Warn(context.Background(), "identity query failed for token", map[string]interface{}{"token_id": tokenID, "error": err.Error()})
		}
		return nil
	}

	identities := make([]model.Identity, 0, len(records))
	for _, record := range records {
		ident, err := resolveOne(store, authCtx, record)
		if err != nil {
			if log != nil {
				log.Warn(context.Background(), "dropping identity that failed to resolve", map[string]interface{}{"token_id": tokenID, "error": err.Error()})
			}
			continue
		}
		identities = append(identities, ident)
	}
	return identities
}

func resolveOne(store hostapi.IdentityStore, authCtx any, record hostapi.IdentityRecord) (model.Identity, error) {
	strong, err := store.ResolveStrongIdentity(record.PersistentRef, authCtx)
	if err != nil {
		return model.Identity{}, err
	}

	label := record.Label
	if label == "" {
		label = defaultLabel
	}

	canVerify, canEncrypt, canWrap, err := store.PublicKeyCapabilities(strong.PublicKeyHandle)
	if err != nil {
		return model.Identity{}, err
	}
	if canWrap {
		canEncrypt = true
	}

	return model.Identity{
		CertificateDER:    strong.CertificateDER,
		PrivateKeyHandle:  strong.PrivateKeyHandle,
		PublicKeyHandle:   strong.PublicKeyHandle,
		PublicKeyHash:     record.PublicKeyHash,
		KeyType:           record.KeyType,
		AccessControlRef:  strong.AccessControlRef,
		Label:             label,
		PrivCanSign:       record.PrivCanSign,
		PrivCanDecrypt:    record.PrivCanDecrypt,
		PubCanVerify:      canVerify,
		PubCanEncrypt:     canEncrypt,
		PubCanWrap:        canWrap,
	}, nil
}
