package service

import (
	"context"

	"gocloud.dev/secrets"

	cryptoDomain "github.com/carevault/fieldcrypt/internal/crypto/domain"
	"github.com/carevault/fieldcrypt/internal/errors"

	// Register all KMS provider drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// kmsService implements KMSService using gocloud.dev/secrets.
type kmsService struct{}

// NewKMSService creates a new KMS service instance.
func NewKMSService() KMSService {
	return &kmsService{}
}

// OpenKeeper opens a secrets.Keeper for the KMS provider named by keyURI.
// Supports: gcpkms://, awskms://, azurekeyvault://, hashivault://, and
// base64key:// for local development and tests. The returned keeper wraps
// key material before it is written to the secret store and unwraps it on
// the way back.
func (k *kmsService) OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error) {
	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, errors.Wrap(err, "open KMS keeper")
	}

	return keeper, nil
}
