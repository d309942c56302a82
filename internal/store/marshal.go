package store

import (
	"fmt"

	"github.com/roach88/optimist/internal/canon"
)

// marshalPayload converts v to canonical JSON TEXT plus its fingerprint.
func marshalPayload(v any) (string, string, error) {
	data, err := canon.MarshalCanonical(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	fp, err := canon.Fingerprint(canon.DomainEntity, v)
	if err != nil {
		return "", "", fmt.Errorf("fingerprint payload: %w", err)
	}
	return string(data), fp, nil
}
