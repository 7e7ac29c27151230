package secrets

import "errors"

// FallbackStore reads and writes Primary, using Secondary whenever Primary
// fails. Delete clears both so a stale fallback copy cannot resurrect a
// logged-out session.
type FallbackStore struct {
	Primary   SecretStore
	Secondary SecretStore
}

func (s *FallbackStore) Get(service, account string) (string, error) {
	v, err := s.Primary.Get(service, account)
	if err == nil {
		return v, nil
	}
	return s.Secondary.Get(service, account)
}

func (s *FallbackStore) Set(service, account, value string) error {
	if err := s.Primary.Set(service, account, value); err == nil {
		return nil
	}
	return s.Secondary.Set(service, account, value)
}

func (s *FallbackStore) Delete(service, account string) error {
	errP := s.Primary.Delete(service, account)
	errS := s.Secondary.Delete(service, account)
	switch {
	case errP == nil || errS == nil:
		return nil
	case errors.Is(errP, ErrNotFound) && errors.Is(errS, ErrNotFound):
		return ErrNotFound
	case !errors.Is(errP, ErrNotFound):
		return errP
	default:
		return errS
	}
}

func (s *FallbackStore) IsSupported() bool {
	return s.Primary.IsSupported() || s.Secondary.IsSupported()
}
