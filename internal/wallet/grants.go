package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/buntdb"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	memoryDatabasePath = ":memory:"
	grantKeyPrefix     = "grant:"
	grantIndexName     = "grants"
	grantIndexField    = "grantedAt"

	errMessageOpenGrants     = "open grant store"
	errMessageCreateIndex    = "create grant index"
	errMessageEncodeGrant    = "encode grant"
	errMessageDecodeGrant    = "decode grant"
	errMessageStoreGrant     = "store grant"
	errMessageListGrants     = "list grants"
	errMessageInvalidAccount = "invalid account"
)

// Grant records that the operator authorized the portal to use an account.
type Grant struct {
	Account   portal.Account `json:"account"`
	GrantedAt time.Time      `json:"grantedAt"`
}

// GrantStore persists account grants in buntdb so an authorization survives a
// restart the same way a browser wallet remembers a connected site.
type GrantStore struct {
	database *buntdb.DB
}

// OpenGrantStore opens the grant database at path. An empty path keeps grants
// in memory only.
func OpenGrantStore(path string) (*GrantStore, error) {
	if path == "" {
		path = memoryDatabasePath
	}
	database, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageOpenGrants, err)
	}
	if err := database.CreateIndex(grantIndexName, grantKeyPrefix+"*", buntdb.IndexJSON(grantIndexField)); err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		database.Close()
		return nil, fmt.Errorf("%s: %w", errMessageCreateIndex, err)
	}
	return &GrantStore{database: database}, nil
}

// Close releases the database.
func (store *GrantStore) Close() error {
	return store.database.Close()
}

// Save records a grant for account, replacing an earlier one.
func (store *GrantStore) Save(account portal.Account, grantedAt time.Time) error {
	if !common.IsHexAddress(string(account)) {
		return fmt.Errorf("%s: %q", errMessageInvalidAccount, account)
	}
	grant := Grant{
		Account:   portal.Account(common.HexToAddress(string(account)).Hex()),
		GrantedAt: grantedAt.UTC(),
	}
	serializedGrant, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageEncodeGrant, err)
	}
	err = store.database.Update(func(tx *buntdb.Tx) error {
		_, _, setErr := tx.Set(grantKeyPrefix+string(grant.Account), string(serializedGrant), nil)
		return setErr
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageStoreGrant, err)
	}
	return nil
}

// List returns every grant, oldest first.
func (store *GrantStore) List() ([]Grant, error) {
	grants := make([]Grant, 0, 4)
	var decodeErr error
	err := store.database.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(grantIndexName, func(_, value string) bool {
			var grant Grant
			if err := json.Unmarshal([]byte(value), &grant); err != nil {
				decodeErr = fmt.Errorf("%s: %w", errMessageDecodeGrant, err)
				return false
			}
			grants = append(grants, grant)
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageListGrants, err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return grants, nil
}
