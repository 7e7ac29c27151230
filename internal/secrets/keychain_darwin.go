//go:build darwin

package secrets

import (
	"errors"
	"fmt"

	"github.com/keybase/go-keychain"
)

func platformStore() SecretStore {
	return &KeychainStore{}
}

// KeychainStore keeps credentials as generic passwords in the login
// keychain. Items never sync to iCloud and are readable only while the
// keychain is unlocked.
type KeychainStore struct{}

// item addresses one generic password by service and account.
func item(service, account string) keychain.Item {
	it := keychain.NewItem()
	it.SetSecClass(keychain.SecClassGenericPassword)
	it.SetService(service)
	it.SetAccount(account)
	return it
}

func (k *KeychainStore) Get(service, account string) (string, error) {
	query := item(service, account)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	switch {
	case errors.Is(err, keychain.ErrorItemNotFound), err == nil && len(results) == 0:
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("keychain query %s/%s: %w", service, account, err)
	}
	return string(results[0].Data), nil
}

// Set adds the item, or replaces the data of an existing one.
func (k *KeychainStore) Set(service, account, value string) error {
	add := item(service, account)
	add.SetLabel(fmt.Sprintf("%s (%s)", service, account))
	add.SetDescription("chatline session")
	add.SetData([]byte(value))
	add.SetSynchronizable(keychain.SynchronizableNo)
	add.SetAccessible(keychain.AccessibleWhenUnlocked)

	err := keychain.AddItem(add)
	if !errors.Is(err, keychain.ErrorDuplicateItem) {
		return err
	}
	update := keychain.NewItem()
	update.SetData([]byte(value))
	return keychain.UpdateItem(item(service, account), update)
}

func (k *KeychainStore) Delete(service, account string) error {
	err := keychain.DeleteItem(item(service, account))
	if errors.Is(err, keychain.ErrorItemNotFound) {
		return ErrNotFound
	}
	return err
}

func (k *KeychainStore) IsSupported() bool {
	return true
}
