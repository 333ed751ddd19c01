package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/quill/printhold/internal/db"
)

const kioskPrefix = "kiosk_"

// KioskService registers and validates kiosk device tokens. A kiosk token
// authenticates only the walk-up surface at the printer; it never grants
// admin operations. Tokens may be bound to a source IP at registration.
type KioskService struct {
	kiosks *db.KioskOperations
}

func NewKioskService(kiosks *db.KioskOperations) *KioskService {
	return &KioskService{kiosks: kiosks}
}

// Register creates a device and returns the raw token, shown once.
func (s *KioskService) Register(ctx context.Context, name, boundIP string) (string, *db.KioskDevice, error) {
	if name == "" {
		return "", nil, fmt.Errorf("device name is required")
	}
	raw := kioskPrefix + randomToken(48)

	device := &db.KioskDevice{
		TokenHash: hashSecret(raw),
		Name:      name,
	}
	if boundIP != "" {
		device.BoundIP = &boundIP
	}
	if err := s.kiosks.Create(ctx, device); err != nil {
		return "", nil, err
	}
	return raw, device, nil
}

// Validate authenticates a presented token. When the device is IP-bound,
// a request from any other origin is rejected the same way an unknown
// token is.
func (s *KioskService) Validate(ctx context.Context, rawToken, clientIP string) (*Principal, error) {
	if !strings.HasPrefix(rawToken, kioskPrefix) {
		return nil, ErrAuthenticationFailed
	}

	device, err := s.kiosks.GetActiveByTokenHash(ctx, hashSecret(rawToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if device.BoundIP != nil && *device.BoundIP != "" && *device.BoundIP != clientIP {
		return nil, ErrAuthenticationFailed
	}

	if err := s.kiosks.Touch(ctx, device.ID); err != nil {
		log.Printf("[auth] failed to touch kiosk %d: %v", device.ID, err)
	}

	return &Principal{
		Kind:    KindKiosk,
		Account: device.Name,
		KioskID: device.ID,
	}, nil
}

func (s *KioskService) Revoke(ctx context.Context, id int64) error {
	return s.kiosks.Revoke(ctx, id)
}
